package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/sightlineapp/sightline/pipeline/config"
	"github.com/sightlineapp/sightline/pkg/perceive"
	"golang.org/x/sync/errgroup"
)

// ModelLoader creates scoring ports. Implementations wrap whatever
// inference runtime the host platform provides.
type ModelLoader interface {
	LoadClassifier(ctx context.Context, cfg config.ModelConfig) (perceive.Classifier, error)
	LoadDetector(ctx context.Context, cfg config.ModelConfig) (perceive.Detector, error)
	LoadFaceMatcher(ctx context.Context, cfg config.ModelConfig) (perceive.FaceMatcher, error)
}

// Port names, used for failure tracking and logging.
const (
	modelStaticSign  = "static_sign"
	modelDynamicSign = "dynamic_sign"
	modelObjects     = "objects"
	modelFaces       = "faces"
)

// modelSet owns the loaded scoring ports of the active mode, tracks
// consecutive per-port inference failures, and tears down and reloads a
// port that keeps failing.
type modelSet struct {
	log                    logs.Log
	loader                 ModelLoader
	cfg                    config.ModelsConfig
	maxConsecutiveFailures int

	mu         sync.Mutex
	static     perceive.Classifier
	dynamic    perceive.Classifier
	detector   perceive.Detector
	faces      perceive.FaceMatcher
	failures   map[string]int
	reloading  map[string]bool
	lastErrLog map[string]time.Time
}

func newModelSet(log logs.Log, loader ModelLoader, cfg config.ModelsConfig, maxConsecutiveFailures int) *modelSet {
	if maxConsecutiveFailures <= 0 {
		maxConsecutiveFailures = 2
	}
	return &modelSet{
		log:                    log,
		loader:                 loader,
		cfg:                    cfg,
		maxConsecutiveFailures: maxConsecutiveFailures,
		failures:               map[string]int{},
		reloading:              map[string]bool{},
		lastErrLog:             map[string]time.Time{},
	}
}

// loadTranslationFamily loads the static and dynamic sign classifiers
// concurrently. Any previously loaded family is closed first.
func (m *modelSet) loadTranslationFamily(ctx context.Context) error {
	m.closeAll()

	var static, dynamic perceive.Classifier
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		static, err = m.loader.LoadClassifier(ctx, m.cfg.StaticSign)
		return err
	})
	g.Go(func() error {
		var err error
		dynamic, err = m.loader.LoadClassifier(ctx, m.cfg.DynamicSign)
		return err
	})
	if err := g.Wait(); err != nil {
		if static != nil {
			static.Close()
		}
		if dynamic != nil {
			dynamic.Close()
		}
		return err
	}

	m.mu.Lock()
	m.static = static
	m.dynamic = dynamic
	m.failures = map[string]int{}
	m.mu.Unlock()
	return nil
}

// loadDetectionFamily loads the object detector and face matcher
// concurrently. Any previously loaded family is closed first.
func (m *modelSet) loadDetectionFamily(ctx context.Context) error {
	m.closeAll()

	var detector perceive.Detector
	var faces perceive.FaceMatcher
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		detector, err = m.loader.LoadDetector(ctx, m.cfg.Objects)
		return err
	})
	g.Go(func() error {
		var err error
		faces, err = m.loader.LoadFaceMatcher(ctx, m.cfg.Faces)
		return err
	})
	if err := g.Wait(); err != nil {
		if detector != nil {
			detector.Close()
		}
		if faces != nil {
			faces.Close()
		}
		return err
	}

	m.mu.Lock()
	m.detector = detector
	m.faces = faces
	m.failures = map[string]int{}
	m.mu.Unlock()
	return nil
}

func (m *modelSet) closeAll() {
	m.mu.Lock()
	static, dynamic, detector, faces := m.static, m.dynamic, m.detector, m.faces
	m.static, m.dynamic, m.detector, m.faces = nil, nil, nil, nil
	m.mu.Unlock()

	if static != nil {
		static.Close()
	}
	if dynamic != nil {
		dynamic.Close()
	}
	if detector != nil {
		detector.Close()
	}
	if faces != nil {
		faces.Close()
	}
}

func (m *modelSet) translationPorts() (perceive.Classifier, perceive.Classifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.static, m.dynamic
}

func (m *modelSet) detectionPorts() (perceive.Detector, perceive.FaceMatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detector, m.faces
}

func (m *modelSet) recordSuccess(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[name] = 0
}

// recordFailure logs an inference failure (rate-limited) and, once the
// consecutive failure count reaches the limit, tears the port down and
// reloads it in the background.
func (m *modelSet) recordFailure(name string, err error) {
	ierr := &perceive.InferenceError{Model: name, Err: err}
	m.mu.Lock()
	if time.Since(m.lastErrLog[name]) > 15*time.Second {
		m.lastErrLog[name] = time.Now()
		m.mu.Unlock()
		m.log.Errorf("%v", ierr)
		m.mu.Lock()
	}
	m.failures[name]++
	teardown := m.failures[name] >= m.maxConsecutiveFailures && !m.reloading[name]
	if teardown {
		m.reloading[name] = true
	}
	m.mu.Unlock()

	if teardown {
		m.log.Warnf("Model %v failed %v consecutive times, reloading", name, m.maxConsecutiveFailures)
		go m.reload(name)
	}
}

// reload closes the broken port and loads a fresh one. Runs on its own
// goroutine; the port is nil (unavailable) until the reload completes.
func (m *modelSet) reload(name string) {
	m.mu.Lock()
	var closeMe interface{ Close() }
	switch name {
	case modelStaticSign:
		closeMe, m.static = m.static, nil
	case modelDynamicSign:
		closeMe, m.dynamic = m.dynamic, nil
	case modelObjects:
		closeMe, m.detector = m.detector, nil
	case modelFaces:
		closeMe, m.faces = m.faces, nil
	}
	m.mu.Unlock()
	if closeMe != nil {
		closeMe.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.LoadTimeout.Get())
	defer cancel()

	var err error
	var static, dynamic perceive.Classifier
	var detector perceive.Detector
	var faces perceive.FaceMatcher
	switch name {
	case modelStaticSign:
		static, err = m.loader.LoadClassifier(ctx, m.cfg.StaticSign)
	case modelDynamicSign:
		dynamic, err = m.loader.LoadClassifier(ctx, m.cfg.DynamicSign)
	case modelObjects:
		detector, err = m.loader.LoadDetector(ctx, m.cfg.Objects)
	case modelFaces:
		faces, err = m.loader.LoadFaceMatcher(ctx, m.cfg.Faces)
	default:
		err = errors.New("unknown model name " + name)
	}

	m.mu.Lock()
	m.reloading[name] = false
	if err == nil {
		switch name {
		case modelStaticSign:
			m.static = static
		case modelDynamicSign:
			m.dynamic = dynamic
		case modelObjects:
			m.detector = detector
		case modelFaces:
			m.faces = faces
		}
		m.failures[name] = 0
	}
	m.mu.Unlock()

	if err != nil {
		m.log.Errorf("Failed to reload model %v: %v", name, err)
	} else {
		m.log.Infof("Model %v reloaded", name)
	}
}

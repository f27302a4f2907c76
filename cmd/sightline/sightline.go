package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"
	"github.com/sightlineapp/sightline/pipeline/alert"
	"github.com/sightlineapp/sightline/pipeline/config"
	"github.com/sightlineapp/sightline/pipeline/listener"
	"github.com/sightlineapp/sightline/pipeline/orchestrator"
	"github.com/sightlineapp/sightline/pipeline/power"
	"github.com/sightlineapp/sightline/pipeline/resultcache"
	"github.com/sightlineapp/sightline/pipeline/scheduler"
)

func main() {
	parser := argparse.NewParser("sightline", "Real-time perception pipeline for accessibility")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration file (yaml)", Default: ""})
	dbFile := parser.String("", "db", &argparse.Options{Help: "Result cache database file", Default: ""})
	dump := parser.Flag("", "dump", &argparse.Options{Help: "Write one annotated JPEG of the first preprocessed frame", Default: false})
	simulate := parser.Flag("", "simulate", &argparse.Options{Help: "Drive the pipeline from a synthetic camera and stub models", Default: false})
	mode := parser.String("m", "mode", &argparse.Options{Help: "Initial mode (translation, detection, sound)", Default: "detection"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Default()
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
	}
	if *dump {
		cfg.DebugDumpFrames = true
	}

	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/var/lib"
	}
	if *dbFile == "" {
		*dbFile = filepath.Join(home, "sightline", "results.sqlite")
	}
	if err := os.MkdirAll(filepath.Dir(*dbFile), 0770); err != nil {
		logger.Errorf("Failed to create data directory: %v", err)
		os.Exit(1)
	}

	cache, err := resultcache.Open(logger, *dbFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	battery := power.NewSysfsMonitor(logger)

	// Without a real inference runtime linked in, the stub models from the
	// simulator are the only loader available.
	if !*simulate {
		logger.Errorf("No inference runtime is linked into this binary. Run with --simulate.")
		os.Exit(1)
	}

	speech := newLogSpeech(logger)
	queue := alert.NewQueue(logger, speech, cfg.Alerts.Retention.Get())
	loader := newSimLoader()
	orch := orchestrator.New(logger, cfg, loader, battery, queue, cache)
	sched := scheduler.NewScheduler(logger, cfg.TargetFPS, orch)

	var sound *listener.Listener
	switch *mode {
	case "translation":
		orch.SetMode(orchestrator.ModeTranslation)
	case "detection":
		orch.SetMode(orchestrator.ModeDetection)
	case "sound":
		orch.SetMode(orchestrator.ModeSound)
		sound = listener.NewListener(logger, cfg, newSimSoundModel(), queue)
	default:
		logger.Errorf("Unknown mode %q", *mode)
		os.Exit(1)
	}

	// Log significant results, the way a UI projection would consume them.
	results := orch.AddWatcher()
	go func() {
		for res := range results {
			switch res.Kind {
			case orchestrator.KindSign:
				logger.Infof("Sign: %v (%.1f ms)", res.Sign.Message, res.Latency.TotalMs)
			case orchestrator.KindDetection:
				logger.Infof("Detection: %v objects (%.1f ms)", len(res.Detection.Objects), res.Latency.TotalMs)
			case orchestrator.KindError:
				logger.Errorf("Pipeline error: %v", res.Err)
			}
		}
	}()

	source := startSimulation(logger, sched, sound)

	daemon.SdNotify(false, daemon.SdNotifyReady)
	logger.Infof("Sightline running in %v mode at %v fps target", *mode, cfg.TargetFPS)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Infof("Shutting down")

	source.stop()
	sched.Close()
	if sound != nil {
		sound.Close()
	}
	queue.Close()
	orch.RemoveWatcher(results)
	orch.Close()
	cache.Close()
	battery.Close()
	logger.Infof("Shutdown complete")
}

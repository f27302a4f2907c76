// Package power reports the battery state that the pipeline uses to derate
// its frame rate. The sysfs reader covers Linux devices; anything else can
// inject its own Monitor.
package power

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
)

// Monitor is the battery state consumed by the pipeline.
type Monitor interface {
	// Level is the charge percentage, 0 to 100. A device with no battery
	// reports 100.
	Level() int

	// PowerSaver reports whether the OS power saver mode is engaged.
	PowerSaver() bool
}

// FixedMonitor is a Monitor with settable values, for tests and for
// platforms where the host app pushes battery state in.
type FixedMonitor struct {
	level int32
	saver atomic.Bool
}

func NewFixedMonitor(level int, saver bool) *FixedMonitor {
	m := &FixedMonitor{}
	m.Set(level, saver)
	return m
}

func (m *FixedMonitor) Set(level int, saver bool) {
	atomic.StoreInt32(&m.level, int32(level))
	m.saver.Store(saver)
}

func (m *FixedMonitor) Level() int       { return int(atomic.LoadInt32(&m.level)) }
func (m *FixedMonitor) PowerSaver() bool { return m.saver.Load() }

// SysfsMonitor polls /sys/class/power_supply for the first battery it
// finds. Power saver state is not visible through sysfs, so it is pushed
// in via SetPowerSaver by whoever owns that signal.
type SysfsMonitor struct {
	log          logs.Log
	capacityFile string
	level        int32
	saver        atomic.Bool
	stop         chan bool
	stopped      sync.WaitGroup
}

const sysfsRoot = "/sys/class/power_supply"

// NewSysfsMonitor finds a battery under /sys/class/power_supply and starts
// polling it. If no battery exists (desktop, dev board on mains), the
// monitor reports a constant 100 and never polls.
func NewSysfsMonitor(log logs.Log) *SysfsMonitor {
	m := &SysfsMonitor{
		log:   log,
		level: 100,
		stop:  make(chan bool),
	}
	m.capacityFile = findBattery(sysfsRoot)
	if m.capacityFile == "" {
		log.Infof("No battery found under %v, assuming mains power", sysfsRoot)
		return m
	}
	m.poll()
	m.stopped.Add(1)
	go m.pollLoop()
	return m
}

func (m *SysfsMonitor) Level() int            { return int(atomic.LoadInt32(&m.level)) }
func (m *SysfsMonitor) PowerSaver() bool      { return m.saver.Load() }
func (m *SysfsMonitor) SetPowerSaver(on bool) { m.saver.Store(on) }

func (m *SysfsMonitor) Close() {
	if m.capacityFile == "" {
		return
	}
	close(m.stop)
	m.stopped.Wait()
}

func (m *SysfsMonitor) pollLoop() {
	defer m.stopped.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *SysfsMonitor) poll() {
	raw, err := os.ReadFile(m.capacityFile)
	if err != nil {
		m.log.Warnf("Failed to read battery capacity from %v: %v", m.capacityFile, err)
		return
	}
	level, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || level < 0 || level > 100 {
		m.log.Warnf("Nonsense battery capacity %q in %v", strings.TrimSpace(string(raw)), m.capacityFile)
		return
	}
	atomic.StoreInt32(&m.level, int32(level))
}

// findBattery returns the capacity file of the first supply whose type is
// "Battery", or "" if there is none.
func findBattery(root string) string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		typ, err := os.ReadFile(filepath.Join(root, e.Name(), "type"))
		if err != nil || strings.TrimSpace(string(typ)) != "Battery" {
			continue
		}
		capFile := filepath.Join(root, e.Name(), "capacity")
		if _, err := os.Stat(capFile); err == nil {
			return capFile
		}
	}
	return ""
}

package alert

import (
	"sync"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

// fakeSpeech records utterances. If gate is non-nil, every Speak blocks on
// it, letting tests pile up a queue behind a busy engine.
type fakeSpeech struct {
	mu         sync.Mutex
	spoken     []string
	interrupts []bool
	stopped    int
	busy       bool
	gate       chan bool
}

func (f *fakeSpeech) Speak(text string, volume float64, interrupt bool) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text)
	f.interrupts = append(f.interrupts, interrupt)
	return nil
}

func (f *fakeSpeech) IsBusy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

func (f *fakeSpeech) setBusy(busy bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy = busy
}

func (f *fakeSpeech) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

func (f *fakeSpeech) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.spoken))
	copy(out, f.spoken)
	return out
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestDedupeWindow(t *testing.T) {
	speech := &fakeSpeech{}
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	q := NewQueue(logs.NewTestingLog(t), speech, 2*time.Minute)
	q.now = clock.now
	defer q.Close()

	it := Item{Text: "person 4 feet ahead", CacheKey: "obj:person:ahead:4", DedupeWindow: 3 * time.Second}

	require.True(t, q.Enqueue(it))
	require.Eventually(t, func() bool { return len(speech.texts()) == 1 }, 2*time.Second, time.Millisecond)

	// 1 second later: inside the window, suppressed at enqueue.
	clock.advance(time.Second)
	require.False(t, q.Enqueue(it))

	// 4 seconds after first utterance: window expired, spoken again.
	clock.advance(3 * time.Second)
	require.True(t, q.Enqueue(it))
	require.Eventually(t, func() bool { return len(speech.texts()) == 2 }, 2*time.Second, time.Millisecond)
}

func TestPreSpeakDedupe(t *testing.T) {
	speech := &fakeSpeech{gate: make(chan bool)}
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	q := NewQueue(logs.NewTestingLog(t), speech, 2*time.Minute)
	q.now = clock.now
	defer q.Close()

	// A keyless blocker keeps the worker busy while two twins pile up.
	require.True(t, q.Enqueue(Item{Text: "blocker"}))
	require.Eventually(t, func() bool { return q.Len() == 0 }, 2*time.Second, time.Millisecond)

	dup := Item{Text: "door ahead", CacheKey: "obj:door:ahead:6", DedupeWindow: 10 * time.Second}
	require.True(t, q.Enqueue(dup)) // neither spoken yet, so both clear
	dup.CreatedAt = clock.now().Add(time.Millisecond)
	require.True(t, q.Enqueue(dup)) // the enqueue-time check

	speech.gate <- true
	speech.gate <- true

	// The second twin is caught by the pre-speak check and never spoken.
	require.Eventually(t, func() bool { return len(speech.texts()) == 2 }, 2*time.Second, time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	require.Equal(t, []string{"blocker", "door ahead"}, speech.texts())
}

func TestPriorityOrdering(t *testing.T) {
	speech := &fakeSpeech{gate: make(chan bool, 16)}
	q := NewQueue(logs.NewTestingLog(t), speech, 2*time.Minute)
	defer q.Close()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// The first item is popped immediately and blocks in Speak; the rest
	// accumulate and must come out by priority, then age.
	require.True(t, q.Enqueue(Item{Text: "first", CreatedAt: base}))
	require.Eventually(t, func() bool { return q.Len() == 0 }, 2*time.Second, time.Millisecond)

	require.True(t, q.Enqueue(Item{Text: "low", Priority: PriorityLow, CreatedAt: base.Add(1 * time.Millisecond)}))
	require.True(t, q.Enqueue(Item{Text: "normal", Priority: PriorityNormal, CreatedAt: base.Add(2 * time.Millisecond)}))
	require.True(t, q.Enqueue(Item{Text: "critical", Priority: PriorityCritical, CreatedAt: base.Add(3 * time.Millisecond)}))

	// The engine reports busy from here on, so the critical item must cut it
	// off while normal and low must not.
	speech.setBusy(true)

	for i := 0; i < 4; i++ {
		speech.gate <- true
	}
	require.Eventually(t, func() bool { return len(speech.texts()) == 4 }, 5*time.Second, time.Millisecond)
	require.Equal(t, []string{"first", "critical", "normal", "low"}, speech.texts())

	// Only the critical one interrupted.
	speech.mu.Lock()
	defer speech.mu.Unlock()
	require.Equal(t, []bool{false, true, false, false}, speech.interrupts)
}

func TestCriticalDoesNotInterruptIdleEngine(t *testing.T) {
	speech := &fakeSpeech{}
	q := NewQueue(logs.NewTestingLog(t), speech, 2*time.Minute)
	defer q.Close()

	require.True(t, q.Enqueue(Item{Text: "fire alarm detected", Priority: PriorityCritical}))
	require.Eventually(t, func() bool { return len(speech.texts()) == 1 }, 2*time.Second, time.Millisecond)

	speech.mu.Lock()
	defer speech.mu.Unlock()
	require.Equal(t, []bool{false}, speech.interrupts)
}

func TestClearDropsQueueAndStopsSpeech(t *testing.T) {
	speech := &fakeSpeech{gate: make(chan bool)}
	q := NewQueue(logs.NewTestingLog(t), speech, 2*time.Minute)
	defer func() {
		close(speech.gate)
		q.Close()
	}()

	require.True(t, q.Enqueue(Item{Text: "busy"}))
	require.Eventually(t, func() bool { return q.Len() == 0 }, 2*time.Second, time.Millisecond)
	require.True(t, q.Enqueue(Item{Text: "stale 1"}))
	require.True(t, q.Enqueue(Item{Text: "stale 2"}))

	q.Clear()
	require.Equal(t, 0, q.Len())

	speech.mu.Lock()
	stopped := speech.stopped
	speech.mu.Unlock()
	require.GreaterOrEqual(t, stopped, 1)
}

func TestDistanceBucketFeet(t *testing.T) {
	require.Equal(t, 2, DistanceBucketFeet(0.3))  // ~1 ft rounds up to minimum
	require.Equal(t, 4, DistanceBucketFeet(1.0))  // 3.28 ft
	require.Equal(t, 6, DistanceBucketFeet(2.0))  // 6.56 ft
	require.Equal(t, 10, DistanceBucketFeet(3.0)) // 9.84 ft
}

func TestDirection(t *testing.T) {
	require.Equal(t, "left", Direction(0.1))
	require.Equal(t, "left", Direction(0.32))
	require.Equal(t, "ahead", Direction(0.5))
	require.Equal(t, "right", Direction(0.7))
}

func TestObjectAlert(t *testing.T) {
	text, key := ObjectAlert("person", 0.2, 1.0)
	require.Equal(t, "person 4 feet to the left", text)
	require.Equal(t, "obj:person:left:4", key)

	text, key = ObjectAlert("door", 0.5, 2.0)
	require.Equal(t, "door 6 feet ahead", text)
	require.Equal(t, "obj:door:ahead:6", key)
}

func TestSoundAndSignAlerts(t *testing.T) {
	text, key := SoundAlert("fire_alarm")
	require.Equal(t, "fire alarm detected", text)
	require.Equal(t, "sound:fire_alarm", key)

	text, key = SignAlert("stop")
	require.Equal(t, "stop", text)
	require.Equal(t, "sign:stop", key)
}

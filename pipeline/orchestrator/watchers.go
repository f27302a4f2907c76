package orchestrator

// SYNC-WATCHER-CHANNEL-SIZE
const WatcherChannelSize = 100

// AddWatcher registers a channel that receives every orchestration result.
// UI projections and telemetry consume these.
func (o *Orchestrator) AddWatcher() chan *Result {
	o.watchersLock.Lock()
	defer o.watchersLock.Unlock()
	ch := make(chan *Result, WatcherChannelSize)
	o.watchers = append(o.watchers, ch)
	return ch
}

// RemoveWatcher unregisters a channel returned by AddWatcher.
func (o *Orchestrator) RemoveWatcher(ch chan *Result) {
	o.watchersLock.Lock()
	defer o.watchersLock.Unlock()
	for i, w := range o.watchers {
		if w == ch {
			o.watchers[i] = o.watchers[len(o.watchers)-1]
			o.watchers = o.watchers[:len(o.watchers)-1]
			return
		}
	}
	o.log.Warnf("Orchestrator.RemoveWatcher failed to find channel")
}

func (o *Orchestrator) sendToWatchers(res *Result) {
	o.watchersLock.RLock()
	// If a watcher stalls we drop results rather than stalling the frame
	// path, and other watchers keep receiving.
	for _, ch := range o.watchers {
		// SYNC-WATCHER-CHANNEL-SIZE
		if len(ch) >= cap(ch)*9/10 {
			o.log.Warnf("Orchestrator watcher is falling behind. I am going to drop results.")
		} else {
			ch <- res
		}
	}
	o.watchersLock.RUnlock()
}

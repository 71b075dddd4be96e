// FILE: lixenwraith/conftree/timing.go
package conftree

import "time"

// Watch defaults, applied by DefaultWatchOptions and Reference.Watch.
const (
	DefaultPollInterval  = time.Second            // file stat frequency
	MinPollInterval      = 100 * time.Millisecond // floor for PollInterval
	DefaultDebounce      = 500 * time.Millisecond // changes within this window reload once
	DefaultReloadTimeout = 5 * time.Second        // a reload taking longer reports EventReloadTimeout
	DefaultMaxWatchers   = 100                    // open Changes channels per reference
)

// Watcher shutdown: stop waits up to stopWaitTimeout for the poll loop to
// exit, checking every stopWaitQuantum.
const (
	stopWaitQuantum = 5 * time.Millisecond
	stopWaitTimeout = 100 * time.Millisecond
	stopWaitCycles  = int(stopWaitTimeout / stopWaitQuantum)

	// Tests wait this many debounce periods for a reload to settle.
	debounceSettleMultiplier = 3
)

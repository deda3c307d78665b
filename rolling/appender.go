package rolling

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// State is the appender lifecycle. Transitions are one-way:
// Created -> Started -> ClosedForAppends -> Stopped.
type State int32

const (
	StateCreated State = iota
	StateStarted
	StateClosedForAppends
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateClosedForAppends:
		return "closedForAppends"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Appender drives a buffered Sink: it serializes appends, tracks freshness
// deadlines per the configured timeout tables, triggers rollover when the sink
// asks for one, and hands sync work to a background worker so logging threads
// never wait on remote-storage latency.
//
// One background goroutine polls the freshness deadlines and flushes when one
// passes; a second consumes the sync request queue. Stop (or Shutdown) winds
// both down in order and is safe to call from multiple goroutines.
type Appender struct {
	cfg     *Config
	sink    Sink
	clk     clock.Clock
	onError ErrorHandler
	metrics *appenderMetrics

	shutdownSoftTimeout time.Duration
	shutdownHardTimeout time.Duration
	checkPeriod         time.Duration

	// mu is the append-exclusive critical section: sink hooks (other than
	// Sync), the freshness window and the rollover timestamp are only touched
	// while holding it.
	mu           sync.Mutex
	fresh        *freshnessTracker
	lastRollover time.Time

	// Events logged against the current file. Read without mu by the flush
	// scheduler to detect activity during a delayed shutdown.
	numEvents atomic.Int64

	started          atomic.Bool
	closedForAppends atomic.Bool
	closeStarted     atomic.Bool
	stopped          atomic.Bool

	// Set by Shutdown before Stop when CloseOnShutdown is false.
	delayedShutdown atomic.Bool

	queue     *requestQueue
	flushStop chan struct{}
	flushDone chan struct{}
	syncDone  chan struct{}
}

// New creates an Appender around the given sink. The Config is validated and
// its CSV timeout tables are parsed here; malformed entries are reported to
// the error handler and skipped.
func New(cfg *Config, sink Sink) (*Appender, error) {
	if sink == nil {
		return nil, fmt.Errorf("rolling: sink is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rolling: %w", err)
	}

	onError := cfg.ErrorHandler
	if onError == nil {
		onError = stderrErrorHandler
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	a := &Appender{
		cfg:                 cfg,
		sink:                sink,
		clk:                 clk,
		onError:             onError,
		metrics:             newAppenderMetrics(cfg.Registerer, cfg.BaseName),
		shutdownSoftTimeout: time.Duration(cfg.ShutdownSoftTimeoutMilliseconds) * time.Millisecond,
		shutdownHardTimeout: time.Duration(cfg.ShutdownHardTimeoutSeconds) * time.Second,
		checkPeriod:         time.Duration(cfg.TimeoutCheckPeriodMilliseconds) * time.Millisecond,
		queue:               newRequestQueue(),
		flushStop:           make(chan struct{}),
		flushDone:           make(chan struct{}),
		syncDone:            make(chan struct{}),
	}
	a.fresh = newFreshnessTracker(cfg.hardTimeouts(onError), cfg.softTimeouts(onError))
	return a, nil
}

// Start activates the sink and launches the background flush scheduler and
// sync worker. It is idempotent; calling it on a stopped appender is an error.
func (a *Appender) Start() error {
	if a.stopped.Load() {
		return fmt.Errorf("rolling: appender already stopped")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started.Load() {
		a.warn("appender already started", nil)
		return nil
	}

	a.fresh.setCeiling(a.fresh.timeout(a.fresh.soft, TraceLevel))
	a.fresh.reset()

	a.lastRollover = a.clk.Now()
	if err := a.sink.Activate(a.lastRollover); err != nil {
		return fmt.Errorf("rolling: activate sink: %w", err)
	}

	go a.flushLoop()
	go a.syncLoop()
	a.started.Store(true)
	return nil
}

// Append writes one event through the sink and updates the freshness window,
// triggering a rollover when the sink policy demands one. It never blocks on
// remote storage and never propagates sink failures: a failed append is
// logged, counted as dropped, and the appender stays usable.
func (a *Appender) Append(e Event) {
	if !a.started.Load() {
		a.warn("append on an appender that is not started", nil)
		return
	}
	if a.closedForAppends.Load() {
		a.warn("append on an appender closed for appends", nil)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.sink.Append(e); err != nil {
		a.metrics.eventsDropped.Inc()
		a.warn("failed to append log event", err)
		return
	}
	a.metrics.eventsAppended.Inc()
	a.numEvents.Add(1)

	if !a.sink.RolloverRequired() {
		a.fresh.update(e.Level(), e.Time())
	} else {
		// The outgoing file's sync request must carry metadata captured
		// before the new file is opened, so concurrent "current size" reads
		// are never attributed to the wrong file. The triggering event was
		// already written and counted, so the snapshot is consistent.
		a.enqueueSyncLocked(true)
		a.fresh.reset()
		a.lastRollover = e.Time()
		// The triggering event also opens the new file's count.
		a.numEvents.Store(1)
		if err := a.sink.StartNewLogFile(a.lastRollover); err != nil {
			a.warn("failed to start new log file", err)
		}
		a.metrics.rollovers.Inc()
	}
}

// Stop runs the idempotent close sequence: stop the flush scheduler, close
// appends, close the sink, enqueue the final sync and the shutdown marker,
// and join the sync worker. Only the first caller executes the sequence;
// later callers return immediately.
//
// The background joins deliberately happen outside the append critical
// section. The sequence enqueues work the sync worker must still consume, so
// joining while holding the append lock could deadlock against a sink whose
// hooks contend for it.
func (a *Appender) Stop() {
	if !a.closeStarted.CompareAndSwap(false, true) {
		return
	}

	if !a.started.Load() {
		a.closedForAppends.Store(true)
		a.stopped.Store(true)
		return
	}

	if a.delayedShutdown.Load() {
		// Flush now in case the process exits before a timeout expires, and
		// lower the soft-timeout ceiling so the next windows close quickly.
		a.mu.Lock()
		if err := a.sink.Flush(); err != nil {
			a.warn("failed to flush sink", err)
		}
		a.mu.Unlock()

		ceiling := time.Second
		if fatal := a.fresh.timeout(a.fresh.soft, FatalLevel); fatal < ceiling {
			ceiling = fatal
		}
		a.fresh.setCeiling(ceiling)
	}

	// Stop the flush scheduler before closing so nothing flushes a closed
	// sink. In delayed-shutdown mode this join blocks until the shutdown
	// deadlines pass.
	close(a.flushStop)
	<-a.flushDone

	a.closedForAppends.Store(true)

	a.mu.Lock()
	if err := a.sink.Close(); err != nil {
		a.warn("failed to close sink", err)
	}
	// Final rollover for anything appended after the scheduler's last pass.
	a.enqueueSyncLocked(true)
	a.mu.Unlock()

	a.queue.pushShutdown()
	<-a.syncDone

	a.stopped.Store(true)
}

// Shutdown is the process-exit entry point. With CloseOnShutdown set it is
// identical to Stop; otherwise it arms the delayed-shutdown mode first so the
// flush scheduler keeps capturing events for the configured grace period.
// Hosts should call it deterministically; HandleSignals is the optional
// adapter for processes that want it bound to OS signals.
func (a *Appender) Shutdown() {
	if !a.cfg.CloseOnShutdown {
		a.delayedShutdown.Store(true)
	}
	a.Stop()
}

// State returns the current lifecycle state.
func (a *Appender) State() State {
	switch {
	case a.stopped.Load():
		return StateStopped
	case a.closedForAppends.Load():
		return StateClosedForAppends
	case a.started.Load():
		return StateStarted
	default:
		return StateCreated
	}
}

// NumEventsLogged returns the number of events logged against the current
// file since the last rollover.
func (a *Appender) NumEventsLogged() int64 {
	return a.numEvents.Load()
}

// BackgroundRunning reports whether either background goroutine is still
// alive. Primarily useful in tests.
func (a *Appender) BackgroundRunning() bool {
	if !a.started.Load() {
		return false
	}
	return !chanClosed(a.flushDone) || !chanClosed(a.syncDone)
}

func chanClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// enqueueSyncLocked snapshots the sink metadata, merges in the event counter,
// and enqueues a sync request for the file identified by the current rollover
// timestamp. Callers must hold mu.
func (a *Appender) enqueueSyncLocked(deleteFile bool) {
	md := a.sink.SyncRequestMetadata()
	if md == nil {
		md = Metadata{}
	}
	md["numEventsLogged"] = a.numEvents.Load()

	a.queue.push(request{
		baseName:     a.cfg.BaseName,
		rolloverTime: a.lastRollover,
		deleteFile:   deleteFile,
		metadata:     md,
	})
	a.metrics.queueDepth.Inc()
}

// flushAndSyncIfNecessary flushes the sink and enqueues a sync request when
// either freshness deadline has passed. It shares the append critical section
// so rollover decisions, deadline updates and flushes never interleave.
func (a *Appender) flushAndSyncIfNecessary() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.fresh.expired(a.clk.Now()) {
		return
	}
	if err := a.sink.Flush(); err != nil {
		a.warn("failed to flush sink in the background", err)
		return
	}
	a.enqueueSyncLocked(false)
	a.fresh.reset()
	a.metrics.flushes.Inc()
}

// flushLoop is the background flush scheduler. It polls the freshness
// deadlines every check period until stopped. A stop signal either ends the
// loop immediately or, when a delayed shutdown was armed, switches it into a
// tighter-period mode that keeps flushing until the shutdown soft deadline
// (extended by event activity) or the hard deadline passes.
func (a *Appender) flushLoop() {
	defer close(a.flushDone)

	period := a.checkPeriod
	stop := a.flushStop
	delayed := false
	var shutdownSoftDeadline, shutdownHardDeadline time.Time
	lastNumEvents := int64(-1)

	for {
		a.flushAndSyncIfNecessary()

		if delayed {
			now := a.clk.Now()
			if n := a.numEvents.Load(); n != lastNumEvents {
				lastNumEvents = n
				shutdownSoftDeadline = now.Add(a.shutdownSoftTimeout)
			}
			if !now.Before(shutdownSoftDeadline) || !now.Before(shutdownHardDeadline) {
				return
			}
		}

		select {
		case <-stop:
			if a.cfg.CloseOnShutdown || !a.delayedShutdown.Load() {
				return
			}
			delayed = true
			now := a.clk.Now()
			shutdownSoftDeadline = now.Add(a.shutdownSoftTimeout)
			shutdownHardDeadline = now.Add(a.shutdownHardTimeout)
			lastNumEvents = a.numEvents.Load()
			period = delayedShutdownCheckPeriod
			stop = nil
		case <-time.After(period):
		}
	}
}

// syncLoop is the single sync worker. It dequeues requests in FIFO order and
// invokes the sink's Sync; a failed request is logged with the resolved file
// name and discarded without retry, since the next scheduled sync carries
// fresher state. The shutdown sentinel terminates the loop.
func (a *Appender) syncLoop() {
	defer close(a.syncDone)

	for {
		req := a.queue.pop()
		if req.shutdown {
			return
		}
		a.metrics.queueDepth.Dec()

		err := a.sink.Sync(req.baseName, req.rolloverTime, req.deleteFile, req.metadata)
		if err != nil {
			a.metrics.syncFailures.Inc()
			name := a.sink.LogFileName(req.baseName, req.rolloverTime)
			a.warn(fmt.Sprintf("failed to sync %q", name), err)
			continue
		}
		a.metrics.syncs.Inc()
	}
}

func (a *Appender) warn(msg string, err error) {
	a.onError(msg, err)
}

func stderrErrorHandler(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "rollsink: %s: %v\n", msg, err)
		return
	}
	fmt.Fprintf(os.Stderr, "rollsink: %s\n", msg)
}

package rolling

import (
	"sync/atomic"
	"time"
)

// freshnessTracker maintains the hard and soft flush deadlines for the current
// freshness window.
//
// The hard deadline only ever tightens within a window: each event proposes
// eventTime + hardTimeout(level) and the earlier deadline wins. The soft
// deadline is recomputed on every event from the smallest soft timeout seen
// since the last reset, so it can move later as fresh events arrive while the
// applied timeout only shrinks.
//
// All fields except the ceiling are owned by the appender and mutated only
// inside its critical section. The ceiling is written once from the shutdown
// path while the flush scheduler may be mid-reset, hence the atomic.
type freshnessTracker struct {
	hard map[Level]time.Duration
	soft map[Level]time.Duration

	// Maximum soft timeout applied after a reset, in nanoseconds. Lowered
	// once when a delayed shutdown begins to bias toward flushing before the
	// process exits.
	ceiling atomic.Int64

	// Zero time means unset (freshly reset window).
	hardDeadline time.Time
	softDeadline time.Time

	// Smallest soft timeout observed since the last reset.
	minSoftTimeout time.Duration
}

func newFreshnessTracker(hard, soft map[Level]time.Duration) *freshnessTracker {
	return &freshnessTracker{hard: hard, soft: soft}
}

// setCeiling sets the maximum soft timeout applied on the next reset.
func (f *freshnessTracker) setCeiling(d time.Duration) {
	f.ceiling.Store(int64(d))
}

// reset unsets both deadlines and restores the soft timeout to the ceiling.
func (f *freshnessTracker) reset() {
	f.hardDeadline = time.Time{}
	f.softDeadline = time.Time{}
	f.minSoftTimeout = time.Duration(f.ceiling.Load())
}

// update feeds one event into the current window.
func (f *freshnessTracker) update(level Level, eventTime time.Time) {
	hardCandidate := eventTime.Add(f.timeout(f.hard, level))
	if f.hardDeadline.IsZero() || hardCandidate.Before(f.hardDeadline) {
		f.hardDeadline = hardCandidate
	}

	if soft := f.timeout(f.soft, level); soft < f.minSoftTimeout {
		f.minSoftTimeout = soft
	}
	f.softDeadline = eventTime.Add(f.minSoftTimeout)
}

// expired reports whether either deadline has passed. Unset deadlines never
// expire.
func (f *freshnessTracker) expired(now time.Time) bool {
	return deadlinePassed(now, f.softDeadline) || deadlinePassed(now, f.hardDeadline)
}

func deadlinePassed(now, deadline time.Time) bool {
	return !deadline.IsZero() && !now.Before(deadline)
}

// timeout looks up the level's entry, falling back to the INFO entry for
// levels absent from the table.
func (f *freshnessTracker) timeout(table map[Level]time.Duration, level Level) time.Duration {
	if d, ok := table[level]; ok {
		return d
	}
	return table[InfoLevel]
}

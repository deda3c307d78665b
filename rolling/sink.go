// Package rolling implements a buffered, rolling log sink driver with a
// freshness-aware flush and sync scheduler. It is designed for sinks whose
// persistence step has high latency, such as object stores or distributed
// filesystems: log events are buffered by a sink collaborator, files roll over
// based on a sink-provided policy, and a decoupled background worker pushes
// finished or stale files to remote storage without ever blocking the logging
// threads.
//
// The package owns scheduling only. Record encoding, event formatting, and the
// actual byte transfer to remote storage belong to collaborators reached
// through the narrow interfaces below.
package rolling

import "time"

// Metadata is an opaque snapshot of sink counters attached to each sync
// request. It is captured at enqueue time and must not be mutated afterwards.
type Metadata map[string]any

// Event is the minimal view of a log event the scheduler needs: the severity
// selects the flush timeouts and the event time anchors the deadlines.
type Event interface {
	Level() Level
	Time() time.Time
}

// Sink is the capability set the scheduler requires from a buffered sink.
//
// All methods except Sync are invoked under the appender's exclusive critical
// section, so implementations do not need their own append-path locking. Sync
// is invoked from the single background sync worker and may be slow; it must
// not touch state shared with the other hooks.
type Sink interface {
	// Activate opens the first active output. The timestamp is the initial
	// rollover timestamp, useful for naming the first log file.
	Activate(rolloverTime time.Time) error

	// Append writes one event into the active buffered output.
	Append(e Event) error

	// Flush forces buffered data down to the sink's backing file.
	Flush() error

	// Close releases the active output's resources. Once closed, the sink
	// cannot be reopened.
	Close() error

	// RolloverRequired reports whether the current file must be closed and a
	// new one started. It is evaluated after every append.
	RolloverRequired() bool

	// StartNewLogFile closes the current output and opens a new one named
	// from the given rollover timestamp.
	StartNewLogFile(rolloverTime time.Time) error

	// LogFileName computes the file name for the given base name and rollover
	// timestamp. Used both for naming new files and for reporting sync
	// failures against the file they concern.
	LogFileName(baseName string, rolloverTime time.Time) string

	// SyncRequestMetadata snapshots sink-specific counters (byte sizes and
	// the like) for attachment to a sync request. May return nil.
	SyncRequestMetadata() Metadata

	// Sync performs the remote persistence step for the named file, which may
	// be a previously rolled-over file rather than the current one.
	// deleteFile indicates the local file is eligible for deletion after a
	// successful sync.
	Sync(baseName string, rolloverTime time.Time, deleteFile bool, metadata Metadata) error
}

// Record is a basic Event implementation carrying a preformatted payload.
// Host-framework bridges build Records so that sinks can write the payload
// without knowing anything about the upstream event model.
type Record struct {
	Severity  Level
	Timestamp time.Time
	Payload   []byte
}

// Level returns the record's severity.
func (r *Record) Level() Level { return r.Severity }

// Time returns the record's event time.
func (r *Record) Time() time.Time { return r.Timestamp }

// Bytes returns the preformatted payload.
func (r *Record) Bytes() []byte { return r.Payload }

// Package slogsink bridges the standard library's log/slog front-end to a
// rolling appender. The handler renders each record's message and attributes
// into a flat text payload and hands it to the appender as a rolling.Record;
// timestamps and levels travel alongside so the sink's layout and the
// freshness scheduler see the original event data.
package slogsink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/linchenxuan/rollsink/rolling"
)

// Appender is the slice of the rolling appender the handler needs.
type Appender interface {
	Append(e rolling.Event)
}

// Options configures a Handler.
type Options struct {
	// Level reports the minimum record level that will be logged. Defaults
	// to slog.LevelInfo.
	Level slog.Leveler
}

// Handler is a slog.Handler feeding an Appender.
type Handler struct {
	app    Appender
	level  slog.Leveler
	prefix []byte   // preformatted attrs from WithAttrs
	groups []string // open group names, joined into attr keys
}

var _ slog.Handler = (*Handler)(nil)

// New creates a Handler. opts may be nil.
func New(app Appender, opts *Options) *Handler {
	h := &Handler{app: app, level: slog.LevelInfo}
	if opts != nil && opts.Level != nil {
		h.level = opts.Level
	}
	return h
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle renders the record and appends it.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}

	payload := make([]byte, 0, len(r.Message)+len(h.prefix)+64)
	payload = append(payload, r.Message...)
	payload = append(payload, h.prefix...)
	r.Attrs(func(a slog.Attr) bool {
		payload = h.appendAttr(payload, a)
		return true
	})

	h.app.Append(&rolling.Record{
		Severity:  mapLevel(r.Level),
		Timestamp: t,
		Payload:   payload,
	})
	return nil
}

// WithAttrs implements slog.Handler by preformatting the attrs into the
// handler's prefix.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.prefix = append(clone.prefix[:len(clone.prefix):len(clone.prefix)])
	for _, a := range attrs {
		clone.prefix = clone.appendAttr(clone.prefix, a)
	}
	return &clone
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(clone.groups[:len(clone.groups):len(clone.groups)], name)
	return &clone
}

// appendAttr renders " key=value", qualifying the key with any open groups.
func (h *Handler) appendAttr(b []byte, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return b
	}
	if a.Value.Kind() == slog.KindGroup {
		sub := *h
		if a.Key != "" {
			sub.groups = append(sub.groups[:len(sub.groups):len(sub.groups)], a.Key)
		}
		for _, ga := range a.Value.Group() {
			b = sub.appendAttr(b, ga)
		}
		return b
	}

	b = append(b, ' ')
	for _, g := range h.groups {
		b = append(b, g...)
		b = append(b, '.')
	}
	b = append(b, a.Key...)
	b = append(b, '=')
	return fmt.Appendf(b, "%v", a.Value.Any())
}

// mapLevel converts slog levels to the appender's severity scale. Levels
// between the named slog levels map to the nearest lower severity; anything
// below Debug is treated as trace, anything at or above Error+4 as fatal.
func mapLevel(l slog.Level) rolling.Level {
	switch {
	case l < slog.LevelDebug:
		return rolling.TraceLevel
	case l < slog.LevelInfo:
		return rolling.DebugLevel
	case l < slog.LevelWarn:
		return rolling.InfoLevel
	case l < slog.LevelError:
		return rolling.WarnLevel
	case l < slog.LevelError+4:
		return rolling.ErrorLevel
	default:
		return rolling.FatalLevel
	}
}

package rolling

import "strings"

// Level is an ordered severity tag used to select per-level flush timeouts.
// Higher values indicate more critical events, which are typically configured
// with shorter timeouts so that important logs reach persistent storage sooner.
type Level int8

// Severity constants, ordered from least to most critical.
const (
	TraceLevel Level = iota + 1
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String returns the uppercase name of the level, matching the spelling used
// in timeout configuration strings.
func (l Level) String() string {
	switch l {
	case TraceLevel:
		return "TRACE"
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string to a Level with case-insensitive matching.
// Unrecognized inputs map to InfoLevel, which is also the level whose timeouts
// apply to events carrying levels absent from the configured tables.
func ParseLevel(levelStr string) Level {
	switch strings.ToUpper(levelStr) {
	case "TRACE":
		return TraceLevel
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	}
	return InfoLevel
}

// IsSupportedLevel reports whether a configuration string names a level that
// may carry its own timeout entry.
//
// Because ParseLevel falls back to InfoLevel for anything it does not
// recognize, the only way to distinguish a genuine info entry from garbage is
// to require the exact spelling "INFO". A side effect is that lowercase
// spellings of "info" are rejected here even though ParseLevel accepts them;
// this matches long-standing observable behavior and is pinned by tests.
func IsSupportedLevel(level string) bool {
	return ParseLevel(level) != InfoLevel || level == "INFO"
}

package zstdsink

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linchenxuan/rollsink/rolling"
)

var sinkBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestSink(t *testing.T, mutate func(*Config)) *FileSink {
	t.Helper()
	cfg := &Config{
		BaseName:  "svc",
		OutputDir: t.TempDir(),
	}
	if mutate != nil {
		mutate(cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func event(level rolling.Level, ts time.Time, payload string) *rolling.Record {
	return &rolling.Record{Severity: level, Timestamp: ts, Payload: []byte(payload)}
}

// decompress reads a possibly multi-frame zstd file back to plain text.
func decompress(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer dec.Close()

	var buf bytes.Buffer
	_, err = io.Copy(&buf, dec)
	require.NoError(t, err)
	return buf.String()
}

func TestNewValidation(t *testing.T) {
	_, err := New(&Config{})
	require.Error(t, err)

	_, err = New(&Config{BaseName: "svc", CompressionLevel: 23})
	require.Error(t, err)

	_, err = New(&Config{BaseName: "svc", CompressionLevel: -1})
	require.Error(t, err)

	s, err := New(&Config{BaseName: "svc"})
	require.NoError(t, err)
	assert.Equal(t, defaultCompressionLevel, s.cfg.CompressionLevel)
	assert.EqualValues(t, defaultRolloverCompressedSizeThreshold, s.cfg.RolloverCompressedSizeThreshold)
	assert.EqualValues(t, defaultRolloverUncompressedSizeThreshold, s.cfg.RolloverUncompressedSizeThreshold)
}

func TestLogFileName(t *testing.T) {
	s := newTestSink(t, nil)
	assert.Equal(t, "svc.1748779200000.zst", s.LogFileName("svc", sinkBase))
}

func TestAppendAndClose(t *testing.T) {
	s := newTestSink(t, nil)
	require.NoError(t, s.Activate(sinkBase))

	require.NoError(t, s.Append(event(rolling.InfoLevel, sinkBase, "hello")))
	require.NoError(t, s.Append(event(rolling.ErrorLevel, sinkBase.Add(time.Second), "boom")))
	require.NoError(t, s.Close())

	content := decompress(t, s.Path())
	assert.Equal(t,
		"2025-06-01 12:00:00.000 INFO hello\n"+
			"2025-06-01 12:00:01.000 ERROR boom\n",
		content)

	assert.EqualValues(t, len(content), s.UncompressedSize())
	assert.Greater(t, s.CompressedSize(), int64(0))
}

func TestFlushClosesFrame(t *testing.T) {
	s := newTestSink(t, func(cfg *Config) {
		cfg.CloseFrameOnFlush = true
	})
	require.NoError(t, s.Activate(sinkBase))

	require.NoError(t, s.Append(event(rolling.InfoLevel, sinkBase, "first")))
	require.NoError(t, s.Flush())

	// The finished frame is decodable while the file is still open.
	content := decompress(t, s.Path())
	assert.Contains(t, content, "first\n")

	// Writes after the flush land in a fresh frame; the concatenation stays a
	// valid zstd stream.
	require.NoError(t, s.Append(event(rolling.InfoLevel, sinkBase, "second")))
	require.NoError(t, s.Close())

	content = decompress(t, s.Path())
	assert.Contains(t, content, "first\n")
	assert.Contains(t, content, "second\n")
}

func TestRolloverBySize(t *testing.T) {
	s := newTestSink(t, func(cfg *Config) {
		cfg.RolloverUncompressedSizeThreshold = 64
	})
	require.NoError(t, s.Activate(sinkBase))
	firstPath := s.Path()

	assert.False(t, s.RolloverRequired())
	require.NoError(t, s.Append(event(rolling.InfoLevel, sinkBase, string(make([]byte, 64)))))
	assert.True(t, s.RolloverRequired())

	next := sinkBase.Add(time.Minute)
	require.NoError(t, s.StartNewLogFile(next))
	assert.NotEqual(t, firstPath, s.Path())
	assert.False(t, s.RolloverRequired())

	require.NoError(t, s.Append(event(rolling.InfoLevel, next, "fresh")))
	require.NoError(t, s.Close())

	assert.Contains(t, decompress(t, firstPath), "INFO")
	assert.Contains(t, decompress(t, s.Path()), "fresh\n")

	// Cross-file totals include both files.
	assert.Greater(t, s.UncompressedSize(), int64(64))
}

func TestSyncRequestMetadata(t *testing.T) {
	s := newTestSink(t, nil)
	require.NoError(t, s.Activate(sinkBase))
	require.NoError(t, s.Append(event(rolling.InfoLevel, sinkBase, "hello")))

	md := s.SyncRequestMetadata()
	assert.EqualValues(t, s.uncompressed, md["uncompressedLogSize"])
	assert.Contains(t, md, "compressedLogSize")
}

func TestSyncUploadsAndDeletes(t *testing.T) {
	type uploadCall struct {
		path       string
		deleteFile bool
		md         rolling.Metadata
	}
	var uploads []uploadCall

	dir := t.TempDir()
	s := newTestSink(t, func(cfg *Config) {
		cfg.OutputDir = dir
		cfg.Upload = func(path string, rolloverTime time.Time, deleteFile bool, md rolling.Metadata) error {
			uploads = append(uploads, uploadCall{path, deleteFile, md})
			return nil
		}
	})
	require.NoError(t, s.Activate(sinkBase))
	require.NoError(t, s.Append(event(rolling.InfoLevel, sinkBase, "hello")))
	require.NoError(t, s.Close())

	path := filepath.Join(dir, s.LogFileName("svc", sinkBase))

	// A non-deleting sync leaves the file in place.
	md := rolling.Metadata{"numEventsLogged": int64(1)}
	require.NoError(t, s.Sync("svc", sinkBase, false, md))
	require.Len(t, uploads, 1)
	assert.Equal(t, path, uploads[0].path)
	assert.False(t, uploads[0].deleteFile)
	assert.Equal(t, md, uploads[0].md)
	_, err := os.Stat(path)
	require.NoError(t, err)

	// A deleting sync removes the local copy after a successful upload.
	require.NoError(t, s.Sync("svc", sinkBase, true, md))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSyncUploadFailureKeepsFile(t *testing.T) {
	dir := t.TempDir()
	s := newTestSink(t, func(cfg *Config) {
		cfg.OutputDir = dir
		cfg.Upload = func(string, time.Time, bool, rolling.Metadata) error {
			return errors.New("endpoint unreachable")
		}
	})
	require.NoError(t, s.Activate(sinkBase))
	require.NoError(t, s.Close())

	require.Error(t, s.Sync("svc", sinkBase, true, nil))
	_, err := os.Stat(filepath.Join(dir, s.LogFileName("svc", sinkBase)))
	assert.NoError(t, err, "failed uploads must not delete the local file")
}

func TestSyncWithoutUploadIsNoop(t *testing.T) {
	s := newTestSink(t, nil)
	require.NoError(t, s.Activate(sinkBase))
	require.NoError(t, s.Close())
	assert.NoError(t, s.Sync("svc", sinkBase, true, nil))

	_, err := os.Stat(s.Path())
	assert.NoError(t, err, "files are kept when no upload hook is configured")
}

func TestDefaultLayout(t *testing.T) {
	b := defaultLayout(event(rolling.WarnLevel, sinkBase, "careful"))
	assert.Equal(t, "2025-06-01 12:00:00.000 WARN careful\n", string(b))

	// Events without a preformatted payload still render via fmt.
	b = defaultLayout(levelTimeEvent{rolling.WarnLevel, sinkBase})
	assert.Contains(t, string(b), "2025-06-01 12:00:00.000 WARN ")
}

// levelTimeEvent is a minimal Event without a preformatted payload.
type levelTimeEvent struct {
	level rolling.Level
	ts    time.Time
}

func (e levelTimeEvent) Level() rolling.Level { return e.level }
func (e levelTimeEvent) Time() time.Time      { return e.ts }

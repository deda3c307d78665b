// Package zstdsink provides a rolling.Sink that writes formatted log events
// into Zstandard-compressed files. Rollover is driven by both the compressed
// and the uncompressed bytes written to the current file: the uncompressed
// threshold keeps files manageable once decompressed, the compressed
// threshold keeps them large enough to amortize filesystem overhead yet small
// enough to upload and search quickly.
//
// Since the sink buffers data inside the compressor, hosts should make sure
// the owning appender is stopped even on unclean exits, or the tail of the
// compressed output may be truncated.
package zstdsink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/linchenxuan/rollsink/rolling"
)

// FileExtension is appended to every log file name.
const FileExtension = ".zst"

const (
	defaultFileMode = 0644
	defaultDirMode  = 0755

	defaultCompressionLevel                  = 3
	defaultRolloverCompressedSizeThreshold   = 16 << 20 // 16 MiB
	defaultRolloverUncompressedSizeThreshold = 1 << 30  // 1 GiB

	// zstd's standard compression level range.
	minCompressionLevel = 1
	maxCompressionLevel = 22
)

// UploadFunc performs the remote persistence step for a finished or stale
// file. deleteFile indicates the local file may be removed after a successful
// upload.
type UploadFunc func(path string, rolloverTime time.Time, deleteFile bool, md rolling.Metadata) error

// LayoutFunc renders one event into the bytes written to the file.
type LayoutFunc func(e rolling.Event) []byte

// Config holds the sink options.
type Config struct {
	// BaseName is the base filename for log files. Required.
	BaseName string `mapstructure:"baseName"`

	// OutputDir is the directory log files are created in. Created on demand.
	OutputDir string `mapstructure:"outputDir"`

	// CompressionLevel is the zstd level between 1 and 22. Default 3.
	CompressionLevel int `mapstructure:"compressionLevel"`

	// RolloverCompressedSizeThreshold triggers rollover once the current
	// file's compressed size reaches it. Default 16 MiB.
	RolloverCompressedSizeThreshold int64 `mapstructure:"rolloverCompressedSizeThreshold"`

	// RolloverUncompressedSizeThreshold triggers rollover once the current
	// file's uncompressed size reaches it. Default 1 GiB.
	RolloverUncompressedSizeThreshold int64 `mapstructure:"rolloverUncompressedSizeThreshold"`

	// CloseFrameOnFlush finishes the current compression frame on every
	// flush, making the file decodable up to that point at the cost of a
	// worse compression ratio. A new frame is started for subsequent writes.
	CloseFrameOnFlush bool `mapstructure:"closeFrameOnFlush"`

	// Layout renders events to bytes. The default prints the event time,
	// level and payload on one line.
	Layout LayoutFunc `mapstructure:"-"`

	// Upload performs the remote persistence step. When nil, Sync is a no-op
	// and local files are never deleted.
	Upload UploadFunc `mapstructure:"-"`
}

// countingWriter tracks the compressed bytes reaching the file.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// FileSink is a rolling.Sink writing zstd-compressed log files.
//
// The sink carries no locking of its own: every hook except Sync runs under
// the owning appender's critical section, and Sync touches only immutable
// configuration.
type FileSink struct {
	cfg    *Config
	layout LayoutFunc

	file *os.File
	cw   *countingWriter
	enc  *zstd.Encoder
	path string

	// Uncompressed bytes written to the current file.
	uncompressed int64

	// Byte totals carried across rollovers.
	compressedBeforeRollover   int64
	uncompressedBeforeRollover int64
}

var _ rolling.Sink = (*FileSink)(nil)

// New validates the configuration and returns an inactive FileSink. The first
// file is opened by Activate.
func New(cfg *Config) (*FileSink, error) {
	if cfg.BaseName == "" {
		return nil, fmt.Errorf("zstdsink: baseName is required")
	}
	if cfg.CompressionLevel == 0 {
		cfg.CompressionLevel = defaultCompressionLevel
	}
	if cfg.CompressionLevel < minCompressionLevel || cfg.CompressionLevel > maxCompressionLevel {
		return nil, fmt.Errorf("zstdsink: compression level %d out of range [%d, %d]",
			cfg.CompressionLevel, minCompressionLevel, maxCompressionLevel)
	}
	if cfg.RolloverCompressedSizeThreshold <= 0 {
		cfg.RolloverCompressedSizeThreshold = defaultRolloverCompressedSizeThreshold
	}
	if cfg.RolloverUncompressedSizeThreshold <= 0 {
		cfg.RolloverUncompressedSizeThreshold = defaultRolloverUncompressedSizeThreshold
	}

	layout := cfg.Layout
	if layout == nil {
		layout = defaultLayout
	}
	return &FileSink{cfg: cfg, layout: layout}, nil
}

// Activate opens the first log file.
func (s *FileSink) Activate(rolloverTime time.Time) error {
	return s.openFile(rolloverTime)
}

// Append renders one event and writes it through the compressor.
func (s *FileSink) Append(e rolling.Event) error {
	buf := s.layout(e)
	if _, err := s.enc.Write(buf); err != nil {
		return fmt.Errorf("write compressed event: %w", err)
	}
	s.uncompressed += int64(len(buf))
	return nil
}

// Flush pushes buffered data down to the file. With CloseFrameOnFlush set the
// current frame is finished and a new one started, so the file is decodable
// up to this point; zstd files are valid as a sequence of frames.
func (s *FileSink) Flush() error {
	if s.cfg.CloseFrameOnFlush {
		if err := s.enc.Close(); err != nil {
			return fmt.Errorf("close compression frame: %w", err)
		}
		s.enc.Reset(s.cw)
		return nil
	}
	if err := s.enc.Flush(); err != nil {
		return fmt.Errorf("flush compressor: %w", err)
	}
	return nil
}

// RolloverRequired reports whether either size threshold has been reached by
// the current file.
func (s *FileSink) RolloverRequired() bool {
	return s.cw.n >= s.cfg.RolloverCompressedSizeThreshold ||
		s.uncompressed >= s.cfg.RolloverUncompressedSizeThreshold
}

// StartNewLogFile closes the current file, folds its sizes into the running
// totals, and opens a new file named from the rollover timestamp.
func (s *FileSink) StartNewLogFile(rolloverTime time.Time) error {
	if err := s.closeFile(); err != nil {
		return err
	}
	return s.openFile(rolloverTime)
}

// Close finishes the compression stream and closes the file.
func (s *FileSink) Close() error {
	return s.closeFile()
}

// LogFileName computes "<baseName>.<rolloverUnixMillis>.zst".
func (s *FileSink) LogFileName(baseName string, rolloverTime time.Time) string {
	return fmt.Sprintf("%s.%d%s", baseName, rolloverTime.UnixMilli(), FileExtension)
}

// SyncRequestMetadata snapshots the current file's byte counters.
func (s *FileSink) SyncRequestMetadata() rolling.Metadata {
	return rolling.Metadata{
		"compressedLogSize":   s.cw.n,
		"uncompressedLogSize": s.uncompressed,
	}
}

// Sync invokes the configured upload hook for the named file and removes the
// local copy when the request allows it and the upload succeeded.
func (s *FileSink) Sync(baseName string, rolloverTime time.Time, deleteFile bool, md rolling.Metadata) error {
	if s.cfg.Upload == nil {
		return nil
	}
	path := filepath.Join(s.cfg.OutputDir, s.LogFileName(baseName, rolloverTime))
	if err := s.cfg.Upload(path, rolloverTime, deleteFile, md); err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	if deleteFile {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove synced file: %w", err)
		}
	}
	return nil
}

// CompressedSize returns the compressed bytes written across all files,
// including the current one.
func (s *FileSink) CompressedSize() int64 {
	var current int64
	if s.cw != nil {
		current = s.cw.n
	}
	return s.compressedBeforeRollover + current
}

// UncompressedSize returns the uncompressed bytes written across all files,
// including the current one.
func (s *FileSink) UncompressedSize() int64 {
	return s.uncompressedBeforeRollover + s.uncompressed
}

// Path returns the current log file path.
func (s *FileSink) Path() string { return s.path }

func (s *FileSink) openFile(rolloverTime time.Time) error {
	path := filepath.Join(s.cfg.OutputDir, s.LogFileName(s.cfg.BaseName, rolloverTime))
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, defaultDirMode); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, defaultFileMode)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	cw := &countingWriter{w: file}
	level := zstd.EncoderLevelFromZstd(s.cfg.CompressionLevel)
	enc, err := zstd.NewWriter(cw, zstd.WithEncoderLevel(level))
	if err != nil {
		file.Close()
		return fmt.Errorf("create compressor: %w", err)
	}

	s.file = file
	s.cw = cw
	s.enc = enc
	s.path = path
	s.uncompressed = 0
	return nil
}

func (s *FileSink) closeFile() error {
	if s.file == nil {
		return nil
	}
	if err := s.enc.Close(); err != nil {
		s.file.Close()
		return fmt.Errorf("close compressor: %w", err)
	}
	s.compressedBeforeRollover += s.cw.n
	s.uncompressedBeforeRollover += s.uncompressed
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	s.file = nil
	return nil
}

// defaultLayout prints "2006-01-02 15:04:05.000 LEVEL payload\n". Events that
// expose a preformatted payload through Bytes are written as-is; anything
// else is rendered with the fmt package.
func defaultLayout(e rolling.Event) []byte {
	var b []byte
	b = e.Time().AppendFormat(b, "2006-01-02 15:04:05.000")
	b = append(b, ' ')
	b = append(b, e.Level().String()...)
	b = append(b, ' ')
	if p, ok := e.(interface{ Bytes() []byte }); ok {
		b = append(b, p.Bytes()...)
	} else {
		b = fmt.Appendf(b, "%v", e)
	}
	b = append(b, '\n')
	return b
}

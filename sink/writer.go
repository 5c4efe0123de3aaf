package sink

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/cyberinferno/linesink/record"
)

// WriterSink writes rendered records to an io.Writer through a buffer.
type WriterSink struct {
	bw        *bufio.Writer
	format    Format
	autoFlush bool
	name      string
}

// NewWriterSink creates a sink writing to w. With autoFlush every record is
// pushed to w as soon as it is written; otherwise output waits for Flush or
// a full buffer.
//
// Parameters:
//   - w: Destination writer; nil means os.Stdout
//   - format: Line format
//   - autoFlush: Flush after every record
//
// Returns:
//   - The sink
func NewWriterSink(w io.Writer, format Format, autoFlush bool) *WriterSink {
	if w == nil {
		w = os.Stdout
	}

	return &WriterSink{
		bw:        bufio.NewWriter(w),
		format:    format,
		autoFlush: autoFlush,
		name:      "writer",
	}
}

// NewStdoutSink creates a WriterSink on os.Stdout.
func NewStdoutSink(format Format, autoFlush bool) *WriterSink {
	s := NewWriterSink(os.Stdout, format, autoFlush)
	s.name = "stdout"
	return s
}

// Write renders rec as one line, flushing when autoflush is on.
func (s *WriterSink) Write(rec record.Record) error {
	line, err := Render(rec, s.format)
	if err != nil {
		return err
	}

	if _, err := s.bw.Write(line); err != nil {
		return err
	}
	if err := s.bw.WriteByte('\n'); err != nil {
		return err
	}

	if s.autoFlush {
		return s.bw.Flush()
	}

	return nil
}

// Flush drains the buffered writer.
func (s *WriterSink) Flush() error {
	return s.bw.Flush()
}

// Close flushes; the underlying writer is left open.
func (s *WriterSink) Close() error {
	return s.Flush()
}

func (s *WriterSink) Name() string { return s.name }

// FileSink appends records to a file.
type FileSink struct {
	inner *WriterSink
	file  *os.File
}

// NewFileSink opens path for appending, creating it if needed.
//
// Parameters:
//   - path: Output file path
//   - format: Line format
//   - autoFlush: Flush the write buffer after every record
//
// Returns:
//   - The sink, or an error if the file cannot be opened
func NewFileSink(path string, format Format, autoFlush bool) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open output file %s: %w", path, err)
	}

	return &FileSink{inner: NewWriterSink(f, format, autoFlush), file: f}, nil
}

// Write appends rec to the file.
func (s *FileSink) Write(rec record.Record) error {
	return s.inner.Write(rec)
}

// Flush writes out the buffer and syncs the file to disk.
func (s *FileSink) Flush() error {
	if err := s.inner.Flush(); err != nil {
		return err
	}

	return s.file.Sync()
}

// Close flushes and closes the file.
func (s *FileSink) Close() error {
	if err := s.Flush(); err != nil {
		_ = s.file.Close()
		return err
	}

	return s.file.Close()
}

func (s *FileSink) Name() string {
	return "file:" + s.file.Name()
}

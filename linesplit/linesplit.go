// Package linesplit turns an arbitrary byte stream into newline-delimited
// records. A Splitter keeps the undelimited tail of the stream between
// reads and enforces a maximum record length so that a peer that never
// sends a newline cannot grow the buffer without bound.
package linesplit

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultMaxLineBytes is the record length limit used when none is given.
const DefaultMaxLineBytes = 64 * 1024

// ErrLineTooLong is returned by Feed when a record, or the undelimited
// remainder, exceeds the configured maximum. The buffer has been discarded
// when it is returned.
var ErrLineTooLong = errors.New("line exceeds maximum length")

// DecodeError reports a record that is not valid UTF-8.
type DecodeError struct {
	// Offset is the byte position of the first invalid sequence.
	Offset int
	// Length is the size of the rejected record in bytes.
	Length int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid UTF-8 at byte %d of %d-byte record", e.Offset, e.Length)
}

// PartialPolicy decides what happens to an undelimited tail when the peer
// closes the connection.
type PartialPolicy int

const (
	// PartialDiscard drops the tail.
	PartialDiscard PartialPolicy = iota
	// PartialFlush emits the tail as a final record.
	PartialFlush
)

// String returns the name accepted by ParsePartialPolicy.
func (p PartialPolicy) String() string {
	switch p {
	case PartialDiscard:
		return "discard"
	case PartialFlush:
		return "flush"
	default:
		return fmt.Sprintf("PartialPolicy(%d)", int(p))
	}
}

// ParsePartialPolicy parses "discard" or "flush". The empty string means
// discard.
func ParsePartialPolicy(s string) (PartialPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "discard":
		return PartialDiscard, nil
	case "flush":
		return PartialFlush, nil
	default:
		return PartialDiscard, fmt.Errorf("unknown partial policy %q (want discard or flush)", s)
	}
}

// Splitter accumulates bytes and emits complete lines. It is owned by a
// single connection handler and is not safe for concurrent use.
type Splitter struct {
	buf []byte
	max int
}

// New returns a Splitter that rejects records longer than maxLineBytes.
// A non-positive value selects DefaultMaxLineBytes.
func New(maxLineBytes int) *Splitter {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}

	return &Splitter{max: maxLineBytes}
}

// Feed appends p to the buffer and calls emit, in stream order, for every
// line whose '\n' is now present. The delimiter and a single preceding '\r'
// are not part of the line. The slice passed to emit is only valid for the
// duration of the call.
//
// Lines emitted before a length violation stay emitted; the violation
// itself discards the whole buffer and returns ErrLineTooLong.
func (s *Splitter) Feed(p []byte, emit func(line []byte)) error {
	s.buf = append(s.buf, p...)

	start := 0
	for {
		i := bytes.IndexByte(s.buf[start:], '\n')
		if i < 0 {
			break
		}

		line := trimCR(s.buf[start : start+i])
		start += i + 1
		if len(line) > s.max {
			s.Reset()
			return ErrLineTooLong
		}

		emit(line)
	}

	// A trailing '\r' may still turn out to be part of a CRLF delimiter.
	if tail := len(s.buf) - start; tail > s.max && !(tail == s.max+1 && s.buf[len(s.buf)-1] == '\r') {
		s.Reset()
		return ErrLineTooLong
	}

	n := copy(s.buf, s.buf[start:])
	s.buf = s.buf[:n]
	return nil
}

// Buffered returns the number of undelimited bytes held.
func (s *Splitter) Buffered() int {
	return len(s.buf)
}

// Remainder returns a copy of the undelimited tail, minus a trailing '\r',
// and empties the buffer. It returns nil when nothing but a lone '\r' is
// buffered.
func (s *Splitter) Remainder() []byte {
	tail := trimCR(s.buf)
	if len(tail) == 0 {
		s.Reset()
		return nil
	}

	out := make([]byte, len(tail))
	copy(out, tail)
	s.Reset()
	return out
}

// Reset drops any buffered bytes.
func (s *Splitter) Reset() {
	s.buf = s.buf[:0]
}

// Decode converts a line into text. Invalid UTF-8 yields a *DecodeError.
func Decode(line []byte) (string, error) {
	if utf8.Valid(line) {
		return string(line), nil
	}

	offset := 0
	for offset < len(line) {
		r, size := utf8.DecodeRune(line[offset:])
		if r == utf8.RuneError && size <= 1 {
			break
		}
		offset += size
	}

	return "", &DecodeError{Offset: offset, Length: len(line)}
}

func trimCR(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		return line[:n-1]
	}

	return line
}

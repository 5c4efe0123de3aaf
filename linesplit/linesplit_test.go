package linesplit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedAll feeds each chunk in turn and returns every emitted line.
func feedAll(t *testing.T, s *Splitter, chunks ...string) []string {
	t.Helper()
	var lines []string
	for _, c := range chunks {
		err := s.Feed([]byte(c), func(line []byte) {
			lines = append(lines, string(line))
		})
		require.NoError(t, err)
	}
	return lines
}

func TestSplitter_Feed(t *testing.T) {
	t.Run("records spanning several reads", func(t *testing.T) {
		s := New(0)
		lines := feedAll(t, s, "hel", "lo\n", "wor", "ld\n")
		assert.Equal(t, []string{"hello", "world"}, lines)
		assert.Zero(t, s.Buffered())
	})

	t.Run("several records in one read", func(t *testing.T) {
		s := New(0)
		var lines []string
		err := s.Feed([]byte("a\nb\nc\n"), func(line []byte) {
			lines = append(lines, string(line))
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, lines)
	})

	t.Run("keeps undelimited tail", func(t *testing.T) {
		s := New(0)
		lines := feedAll(t, s, "one\ntw")
		assert.Equal(t, []string{"one"}, lines)
		assert.Equal(t, 2, s.Buffered())

		lines = feedAll(t, s, "o\n")
		assert.Equal(t, []string{"two"}, lines)
	})

	t.Run("strips carriage return before newline", func(t *testing.T) {
		s := New(0)
		assert.Equal(t, []string{"dos", "unix"}, feedAll(t, s, "dos\r\nunix\n"))
	})

	t.Run("empty lines are records", func(t *testing.T) {
		s := New(0)
		assert.Equal(t, []string{"", "x", ""}, feedAll(t, s, "\nx\n\n"))
	})

	t.Run("byte at a time", func(t *testing.T) {
		s := New(0)
		var chunks []string
		for _, b := range "ab\ncd\n" {
			chunks = append(chunks, string(b))
		}
		assert.Equal(t, []string{"ab", "cd"}, feedAll(t, s, chunks...))
	})
}

func TestSplitter_Feed_maxLength(t *testing.T) {
	t.Run("record at the limit is accepted", func(t *testing.T) {
		s := New(4)
		assert.Equal(t, []string{"abcd"}, feedAll(t, s, "abcd\n"))
	})

	t.Run("delimited record over the limit", func(t *testing.T) {
		s := New(4)
		var lines []string
		err := s.Feed([]byte("ok\nabcde\nlater\n"), func(line []byte) {
			lines = append(lines, string(line))
		})
		assert.ErrorIs(t, err, ErrLineTooLong)
		assert.Equal(t, []string{"ok"}, lines, "records before the violation are kept")
		assert.Zero(t, s.Buffered())
	})

	t.Run("undelimited tail over the limit", func(t *testing.T) {
		s := New(8)
		err := s.Feed([]byte(strings.Repeat("x", 5)), func([]byte) {})
		require.NoError(t, err)

		err = s.Feed([]byte(strings.Repeat("x", 5)), func([]byte) {})
		assert.ErrorIs(t, err, ErrLineTooLong)
		assert.Zero(t, s.Buffered())
	})

	t.Run("CRLF split after the carriage return", func(t *testing.T) {
		s := New(4)
		assert.Equal(t, []string{"abcd"}, feedAll(t, s, "abcd\r", "\n"))
	})

	t.Run("tail one over the limit without carriage return", func(t *testing.T) {
		s := New(4)
		err := s.Feed([]byte("abcde"), func([]byte) {})
		assert.ErrorIs(t, err, ErrLineTooLong)
	})

	t.Run("default limit applies for non-positive values", func(t *testing.T) {
		assert.Equal(t, DefaultMaxLineBytes, New(-1).max)
	})
}

func TestSplitter_Remainder(t *testing.T) {
	t.Run("lone carriage return is no tail", func(t *testing.T) {
		s := New(0)
		assert.Equal(t, []string{"abc"}, feedAll(t, s, "abc\n\r"))
		assert.Equal(t, 1, s.Buffered())
		assert.Nil(t, s.Remainder())
		assert.Zero(t, s.Buffered())
	})

	t.Run("returns and clears tail", func(t *testing.T) {
		s := New(0)
		feedAll(t, s, "done\npartial")
		assert.Equal(t, []byte("partial"), s.Remainder())
		assert.Zero(t, s.Buffered())
		assert.Nil(t, s.Remainder())
	})

	t.Run("remainder is a copy", func(t *testing.T) {
		s := New(0)
		feedAll(t, s, "abc")
		tail := s.Remainder()
		feedAll(t, s, "zzz")
		assert.Equal(t, []byte("abc"), tail)
	})

	t.Run("trailing carriage return dropped", func(t *testing.T) {
		s := New(0)
		feedAll(t, s, "tail\r")
		assert.Equal(t, []byte("tail"), s.Remainder())
	})
}

func TestDecode(t *testing.T) {
	t.Run("valid utf-8", func(t *testing.T) {
		text, err := Decode([]byte("héllo wörld"))
		require.NoError(t, err)
		assert.Equal(t, "héllo wörld", text)
	})

	t.Run("invalid sequence", func(t *testing.T) {
		_, err := Decode([]byte{'o', 'k', 0xff, 'x'})
		var decErr *DecodeError
		require.ErrorAs(t, err, &decErr)
		assert.Equal(t, 2, decErr.Offset)
		assert.Equal(t, 4, decErr.Length)
		assert.Contains(t, decErr.Error(), "byte 2")
	})

	t.Run("truncated multibyte rune", func(t *testing.T) {
		_, err := Decode([]byte{0xe2, 0x82})
		var decErr *DecodeError
		require.ErrorAs(t, err, &decErr)
		assert.Equal(t, 0, decErr.Offset)
	})
}

func TestParsePartialPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    PartialPolicy
		wantErr bool
	}{
		{"", PartialDiscard, false},
		{"discard", PartialDiscard, false},
		{"FLUSH", PartialFlush, false},
		{"keep", PartialDiscard, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePartialPolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, strings.ToLower(tt.want.String()), got.String())
		})
	}
}

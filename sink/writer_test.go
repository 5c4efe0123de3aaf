package sink

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyberinferno/linesink/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterSink(t *testing.T) {
	t.Run("autoflush makes each record visible", func(t *testing.T) {
		var buf bytes.Buffer
		s := NewWriterSink(&buf, FormatRaw, true)

		require.NoError(t, s.Write(record.Record{Text: "hello"}))
		assert.Equal(t, "hello\n", buf.String())
		assert.Equal(t, "writer", s.Name())
	})

	t.Run("buffered output waits for flush", func(t *testing.T) {
		var buf bytes.Buffer
		s := NewWriterSink(&buf, FormatTagged, false)

		require.NoError(t, s.Write(record.Record{ConnID: 1, Remote: "r", Text: "a"}))
		assert.Empty(t, buf.String())

		require.NoError(t, s.Flush())
		assert.Equal(t, "[conn-1 r] a\n", buf.String())
	})

	t.Run("close flushes", func(t *testing.T) {
		var buf bytes.Buffer
		s := NewWriterSink(&buf, FormatRaw, false)
		require.NoError(t, s.Write(record.Record{Text: "last"}))
		require.NoError(t, s.Close())
		assert.Equal(t, "last\n", buf.String())
	})

	t.Run("stdout sink name", func(t *testing.T) {
		assert.Equal(t, "stdout", NewStdoutSink(FormatRaw, true).Name())
	})
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.log")
	require.NoError(t, os.WriteFile(path, []byte("existing\n"), 0644))

	s, err := NewFileSink(path, FormatRaw, false)
	require.NoError(t, err)
	assert.Equal(t, "file:"+path, s.Name())

	require.NoError(t, s.Write(record.Record{Text: "one"}))
	require.NoError(t, s.Write(record.Record{Text: "two"}))
	require.NoError(t, s.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "existing\none\ntwo\n", string(data), "file is appended, not truncated")

	require.NoError(t, s.Write(record.Record{Text: "three"}))
	require.NoError(t, s.Close())
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "existing\none\ntwo\nthree\n", string(data))
}

func TestNewFileSink_badPath(t *testing.T) {
	_, err := NewFileSink(filepath.Join(t.TempDir(), "missing", "x.log"), FormatRaw, true)
	assert.Error(t, err)
}

package logger

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func TestDailyFileWriter_Write(t *testing.T) {
	dir := t.TempDir()
	w, err := NewDailyFileWriter("svc", dir)
	require.NoError(t, err)
	defer w.Close()

	n, err := w.Write([]byte("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	data, err := os.ReadFile(w.CurrentLogFile())
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestDailyFileWriter_rotatesOnNewDay(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)}
	w, err := newDailyFileWriter("svc", dir, clock.Now)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("day one\n"))
	require.NoError(t, err)

	clock.Set(time.Date(2026, 3, 2, 0, 1, 0, 0, time.UTC))
	_, err = w.Write([]byte("day two\n"))
	require.NoError(t, err)

	first, err := os.ReadFile(filepath.Join(dir, "svc_2026-03-01.log"))
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(dir, "svc_2026-03-02.log"))
	require.NoError(t, err)

	assert.Equal(t, "day one\n", string(first))
	assert.Equal(t, "day two\n", string(second))
	assert.Equal(t, filepath.Join(dir, "svc_2026-03-02.log"), w.CurrentLogFile())
}

func TestDailyFileWriter_Close(t *testing.T) {
	w, err := NewDailyFileWriter("svc", t.TempDir())
	require.NoError(t, err)

	require.NoError(t, w.Close())
	assert.NoError(t, w.Close(), "second close is a no-op")
	assert.Empty(t, w.CurrentLogFile())

	_, err = w.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestDailyFileWriter_missingDirectory(t *testing.T) {
	_, err := NewDailyFileWriter("svc", filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestDailyFileWriter_concurrentWrites(t *testing.T) {
	w, err := NewDailyFileWriter("svc", t.TempDir())
	require.NoError(t, err)
	defer w.Close()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _ = w.Write([]byte("line\n"))
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(w.CurrentLogFile())
	require.NoError(t, err)
	assert.Len(t, data, n*len("line\n"))
}

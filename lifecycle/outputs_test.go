package lifecycle

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cyberinferno/linesink/config"
	"github.com/cyberinferno/linesink/logger"
	"github.com/cyberinferno/linesink/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSink(t *testing.T) {
	ctx := context.Background()
	log := logger.NewNopLogger()

	t.Run("single output is not fanned out", func(t *testing.T) {
		snk, err := BuildSink(ctx, []config.Output{{Type: config.OutputStdout}}, log)
		require.NoError(t, err)
		defer snk.Close()

		assert.Equal(t, "stdout", snk.Name())
	})

	t.Run("file and redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		path := filepath.Join(t.TempDir(), "out.log")

		snk, err := BuildSink(ctx, []config.Output{
			{Type: config.OutputFile, Path: path, Format: "tagged"},
			{Type: config.OutputRedis, Addr: mr.Addr(), Key: "records"},
		}, log)
		require.NoError(t, err)
		assert.Equal(t, "fanout(file:"+path+",redis:records)", snk.Name())

		rec := record.Record{ConnID: 1, Remote: "10.0.0.1:5000", Seq: 1, Text: "hello", ReceivedAt: time.Now()}
		require.NoError(t, snk.Write(rec))
		require.NoError(t, snk.Flush())
		require.NoError(t, snk.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "[conn-1 10.0.0.1:5000] hello\n", string(data))

		list, err := mr.List("records")
		require.NoError(t, err)
		assert.Equal(t, []string{"hello"}, list)
	})

	t.Run("unreachable forward target is not fatal", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := ln.Addr().String()
		require.NoError(t, ln.Close())

		snk, err := BuildSink(ctx, []config.Output{{Type: config.OutputForward, Addr: addr}}, log)
		require.NoError(t, err)
		assert.Equal(t, "forward:"+addr, snk.Name())

		assert.Error(t, snk.Write(record.Record{Text: "dropped"}))
		assert.NoError(t, snk.Close())
	})

	t.Run("failure closes earlier targets", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "first.log")

		_, err := BuildSink(ctx, []config.Output{
			{Type: config.OutputFile, Path: path},
			{Type: config.OutputFile, Path: filepath.Join(t.TempDir(), "missing", "second.log")},
		}, log)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "outputs[1]")
	})

	t.Run("unreachable redis", func(t *testing.T) {
		cctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		_, err := BuildSink(cctx, []config.Output{{Type: config.OutputRedis, Addr: "127.0.0.1:1"}}, log)
		assert.Error(t, err)
	})

	t.Run("no outputs", func(t *testing.T) {
		_, err := BuildSink(ctx, nil, log)
		assert.Error(t, err)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := BuildSink(ctx, []config.Output{{Type: "carrier-pigeon"}}, log)
		assert.Error(t, err)
	})
}

package sink

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/cyberinferno/linesink/forwarder"
	"github.com/cyberinferno/linesink/logger"
	"github.com/cyberinferno/linesink/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardSink(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	lines := make(chan string, 4)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	addr := ln.Addr().String()
	client := forwarder.New(forwarder.DefaultConfig(addr), logger.NewNopLogger())
	require.NoError(t, client.Connect())

	s := NewForwardSink(client, addr, FormatRaw)
	assert.Equal(t, "forward:"+addr, s.Name())

	require.NoError(t, s.Write(record.Record{Text: "relayed"}))
	require.NoError(t, s.Flush())

	select {
	case got := <-lines:
		assert.Equal(t, "relayed", got)
	case <-time.After(2 * time.Second):
		t.Fatal("downstream did not receive the record")
	}

	require.NoError(t, s.Close())
	assert.Equal(t, forwarder.Closed, client.State())
}

func TestForwardSink_disconnected(t *testing.T) {
	cfg := forwarder.DefaultConfig("127.0.0.1:1")
	cfg.AutoReconnect = false
	client := forwarder.New(cfg, logger.NewNopLogger())
	s := NewForwardSink(client, cfg.Address, FormatRaw)
	defer s.Close()

	assert.ErrorIs(t, s.Write(record.Record{Text: "x"}), forwarder.ErrNotConnected)
}

package weight

import (
	"bufio"
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/brewmech/internal/sockutil"
)

type brokenScale struct{}

func (brokenScale) Weight(context.Context) (float64, error) { return 0, errors.New("hx711 timeout") }

func startServer(t *testing.T, scale Scale) *Client {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scale.sock")
	ln, err := sockutil.Listen("unix", path, 0)
	require.NoError(t, err)

	log, _ := logtest.NewNullLogger()
	srv := NewServer(scale, log)
	srv.Interval = 5 * time.Millisecond
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	return &Client{Network: "unix", Addr: path, Timeout: time.Second}
}

func TestClient_CurrentWeight(t *testing.T) {
	scale := &StaticScale{}
	scale.Set(312.5)
	c := startServer(t, scale)

	w, err := c.CurrentWeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 312.5, w)

	scale.Set(0)
	w, err = c.CurrentWeight(context.Background())
	require.NoError(t, err)
	assert.Zero(t, w)
}

func TestClient_CurrentWeight_ScaleError(t *testing.T) {
	c := startServer(t, brokenScale{})

	_, err := c.CurrentWeight(context.Background())
	assert.ErrorIs(t, err, ErrNoReading)
	assert.Contains(t, err.Error(), "hx711 timeout")
}

func TestClient_CurrentWeight_NoService(t *testing.T) {
	c := &Client{Addr: filepath.Join(t.TempDir(), "missing.sock")}
	_, err := c.CurrentWeight(context.Background())
	assert.Error(t, err)
}

func TestClient_CurrentWeight_Silent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "silent.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(200 * time.Millisecond)
		}
	}()

	c := &Client{Addr: path, Timeout: 20 * time.Millisecond}
	start := time.Now()
	_, err = c.CurrentWeight(context.Background())
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestServer_UnknownCommand(t *testing.T) {
	c := startServer(t, &StaticScale{})

	conn, err := net.Dial("unix", c.Addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("tare\n"))
	require.NoError(t, err)
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"unknown command"}`, line)
}

func TestClient_Watch(t *testing.T) {
	scale := &StaticScale{}
	scale.Set(12)
	c := startServer(t, scale)

	ctx, cancel := context.WithCancel(context.Background())
	var mx sync.Mutex
	var got []float64
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Watch(ctx, func(w float64) {
			mx.Lock()
			got = append(got, w)
			mx.Unlock()
		})
	}()

	assert.Eventually(t, func() bool {
		mx.Lock()
		defer mx.Unlock()
		return len(got) >= 3
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
	mx.Lock()
	assert.Equal(t, 12.0, got[0])
	mx.Unlock()
}

type countingScale struct {
	mx    sync.Mutex
	reads int
}

func (s *countingScale) Weight(context.Context) (float64, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.reads++
	return 5, nil
}

func (s *countingScale) count() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.reads
}

func TestServer_StreamEndsWithConnection(t *testing.T) {
	scale := &countingScale{}
	c := startServer(t, scale)

	conn, err := net.Dial("unix", c.Addr)
	require.NoError(t, err)
	_, err = conn.Write([]byte(CmdStreamStart + "\n"))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	for i := 0; i < 3; i++ {
		_, err = r.ReadString('\n')
		require.NoError(t, err)
	}
	conn.Close()

	// give the server time to notice, then make sure polling stopped
	time.Sleep(50 * time.Millisecond)
	n := scale.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, scale.count())
}

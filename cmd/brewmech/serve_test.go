package main

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/brewmech/config"
	"github.com/mastercactapus/brewmech/machine"
	"github.com/mastercactapus/brewmech/server"
)

func TestServe_ShutdownWaitsForCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.SerialDriver = config.DriverSim
	cfg.SocketPath = filepath.Join(dir, "mech.sock")
	cfg.WeightSocketPath = filepath.Join(dir, "scale.sock")
	cfg.PollInterval = time.Millisecond
	log, _ := logtest.NewNullLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- serve(ctx, cfg, log) }()

	require.Eventually(t, func() bool {
		c, err := net.Dial("unix", cfg.SocketPath)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, time.Second, 5*time.Millisecond)

	client := &server.Client{Network: "unix", Addr: cfg.SocketPath, Timeout: 2 * time.Second}
	start := time.Now()
	go client.Execute(context.Background(), machine.ZeroSpout{})

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not return")
	}
	// the simulated mechanism takes simDelay to acknowledge
	assert.GreaterOrEqual(t, time.Since(start), simDelay-50*time.Millisecond)
}

package main

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mastercactapus/brewmech/config"
	"github.com/mastercactapus/brewmech/internal/sockutil"
	"github.com/mastercactapus/brewmech/machine"
	"github.com/mastercactapus/brewmech/machine/cmdmsg"
	"github.com/mastercactapus/brewmech/machine/sim"
	"github.com/mastercactapus/brewmech/server"
	"github.com/mastercactapus/brewmech/weight"
)

const simDelay = 500 * time.Millisecond

func openChannel(cfg *config.Config, log *logrus.Logger) (machine.Channel, func() error, error) {
	if cfg.SerialDriver == config.DriverSim {
		log.Warn("using simulated mechanism")
		return sim.NewDevice(simDelay, log.WithField("component", "sim")), func() error { return nil }, nil
	}

	port, err := cmdmsg.OpenPort(cfg.PortConfig())
	if err != nil {
		return nil, nil, err
	}
	log.WithFields(logrus.Fields{"port": cfg.SerialPort, "baud": cfg.BaudRate}).Info("connected to mechanism controller")
	conn := cmdmsg.NewConn(port, cmdmsg.Mechanism, log.WithField("component", "cmdmsg"))
	return conn, conn.Close, nil
}

func serve(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	ch, closeCh, err := openChannel(cfg, log)
	if err != nil {
		return err
	}
	defer closeCh()

	scale := &weight.Client{
		Network: cfg.WeightNetwork,
		Addr:    cfg.WeightSocketPath,
		Timeout: cfg.WeightTimeout,
	}
	m := machine.NewMachine(ch, scale, cfg.MachineConfig(), log)

	mode, err := cfg.FileMode()
	if err != nil {
		return err
	}
	ln, err := sockutil.Listen(cfg.Network, cfg.SocketPath, mode)
	if err != nil {
		return err
	}
	if cfg.Network == "unix" {
		defer os.Remove(cfg.SocketPath)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go m.Run(runCtx)

	srv := server.NewServer(m, log.WithField("component", "server"))
	done := shutdownOnDone(ctx, log, srv.Shutdown)
	err = srv.Serve(ln)
	waitShutdown(ctx, done)
	return err
}

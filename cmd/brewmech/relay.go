package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mastercactapus/brewmech/config"
	"github.com/mastercactapus/brewmech/relay"
	"github.com/mastercactapus/brewmech/server"
)

func runRelay(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	client := &server.Client{Network: cfg.Network, Addr: cfg.SocketPath}
	rl := relay.New(client, log.WithField("component", "relay"))
	defer rl.Close()

	srv := &http.Server{
		Addr: cfg.RelayAddr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "*")
			log.WithFields(logrus.Fields{"method": req.Method, "path": req.URL.Path, "remote": req.RemoteAddr}).Debug("request")
			rl.ServeHTTP(w, req)
		}),
	}
	done := shutdownOnDone(ctx, log, func() error {
		rl.Close()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	log.WithField("addr", cfg.RelayAddr).Info("websocket relay started")
	err := srv.ListenAndServe()
	waitShutdown(ctx, done)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

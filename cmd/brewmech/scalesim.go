package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mastercactapus/brewmech/config"
	"github.com/mastercactapus/brewmech/internal/sockutil"
	"github.com/mastercactapus/brewmech/weight"
)

// scaleSim serves a settable weight. Each number typed on stdin becomes the
// new reading.
func scaleSim(ctx context.Context, cfg *config.Config, log *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("scale-sim", flag.ExitOnError)
	initial := fs.Float64("weight", 0, "Initial weight in grams.")
	fs.Parse(args)

	scale := &weight.StaticScale{}
	scale.Set(*initial)

	ln, err := sockutil.Listen(cfg.WeightNetwork, cfg.WeightSocketPath, 0)
	if err != nil {
		return err
	}
	if cfg.WeightNetwork == "unix" {
		defer os.Remove(cfg.WeightSocketPath)
	}

	go func() {
		scan := bufio.NewScanner(os.Stdin)
		for scan.Scan() {
			w, err := strconv.ParseFloat(strings.TrimSpace(scan.Text()), 64)
			if err != nil {
				log.WithError(err).Warn("expected a weight in grams")
				continue
			}
			scale.Set(w)
			log.WithField("weight", w).Info("weight set")
		}
	}()

	srv := weight.NewServer(scale, log.WithField("component", "scale"))
	done := shutdownOnDone(ctx, log, srv.Close)
	err = srv.Serve(ln)
	waitShutdown(ctx, done)
	return err
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/mastercactapus/brewmech/config"
)

const usage = `Usage: brewmech [-config file] [-env file] <command>

Commands:
  serve      run the mechanism control service (default)
  relay      run the websocket relay in front of the control service
  scale-sim  run a simulated mug scale service

Flags:
`

func main() {
	cfgPath := flag.String("config", "", "YAML config file (default $"+config.PathEnv+").")
	envFile := flag.String("env", ".env", "Dotenv file to load if present.")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*cfgPath, *envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR: load config:", err)
		os.Exit(2)
	}
	log, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR: logger:", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := flag.Arg(0)
	switch cmd {
	case "", "serve":
		err = serve(ctx, cfg, log)
	case "relay":
		err = runRelay(ctx, cfg, log)
	case "scale-sim":
		err = scaleSim(ctx, cfg, log, flag.Args()[1:])
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.WithError(err).Fatal(cmd)
	}
}

// shutdownOnDone calls fn once ctx is done. The returned channel is closed
// after fn returns.
func shutdownOnDone(ctx context.Context, log logrus.FieldLogger, fn func() error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		log.Info("shutting down")
		err := fn()
		if err != nil {
			log.WithError(err).Warn("shutdown")
		}
	}()
	return done
}

// waitShutdown waits for a shutdown started by ctx to finish.
func waitShutdown(ctx context.Context, done <-chan struct{}) {
	if ctx.Err() != nil {
		<-done
	}
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell/v2"

	"github.com/mastercactapus/brewmech/config"
	"github.com/mastercactapus/brewmech/machine"
	"github.com/mastercactapus/brewmech/relay"
	"github.com/mastercactapus/brewmech/server"
	"github.com/mastercactapus/brewmech/weight"
)

type shell struct {
	mech  *server.Client
	scale *weight.Client
	relay *relay.Client
}

func parseInts(args []string, names ...string) ([]machine.Param, error) {
	if len(args) != len(names) {
		return nil, fmt.Errorf("expected %d arguments: %s", len(names), strings.Join(names, " "))
	}
	params := make([]machine.Param, len(args))
	for i, a := range args {
		v, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", names[i], err)
		}
		params[i] = machine.Int(v)
	}
	return params, nil
}

func (s *shell) run(c *ishell.Context, cmd machine.Command) {
	o, err := s.mech.Execute(context.Background(), cmd)
	if err != nil {
		c.Err(err)
		return
	}
	c.Printf("%s: %s %s\n", o.Command, o.Status, o.DataString())
}

func (s *shell) motion(name, help string, build func([]machine.Param) machine.Command, fields ...string) *ishell.Cmd {
	return &ishell.Cmd{
		Name: name,
		Help: help + " <" + strings.Join(fields, "> <") + ">",
		Func: func(c *ishell.Context) {
			p, err := parseInts(c.Args, fields...)
			if err != nil {
				c.Err(err)
				return
			}
			s.run(c, build(p))
		},
	}
}

func (s *shell) abort(armed bool) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		reason := strings.Join(c.Args, " ")
		if reason == "" {
			reason = "manual stop from shell"
			if !armed {
				reason = "manual resume from shell"
			}
		}
		s.run(c, machine.NewSetAbort(armed, reason))
	}
}

func (s *shell) send(c *ishell.Context) {
	line := strings.Join(c.Args, " ")
	if line == "" {
		c.Err(fmt.Errorf("usage: send <json>"))
		return
	}
	reply, err := s.mech.Do(context.Background(), []byte(line))
	if err != nil {
		c.Err(err)
		return
	}
	var v interface{}
	if json.Unmarshal(reply, &v) != nil {
		c.Print(string(reply))
		return
	}
	data, _ := json.MarshalIndent(v, "", "  ")
	c.Println(string(data))
}

func (s *shell) submit(c *ishell.Context) {
	if s.relay == nil {
		c.Err(fmt.Errorf("no relay configured, start with -relay ws://host:port/ws"))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ack, err := s.relay.Submit(ctx, []byte(strings.Join(c.Args, " ")))
	if err != nil {
		c.Err(err)
		return
	}
	c.Printf("%s: %d/%d completed\n", ack.Status, ack.CompletedCommands, ack.TotalCommands)
	for _, cmd := range ack.Commands {
		c.Printf("  %s: %s %s\n", cmd.Command, cmd.Status, cmd.Info)
	}
}

func (s *shell) weight(c *ishell.Context) {
	w, err := s.scale.CurrentWeight(context.Background())
	if err != nil {
		c.Err(err)
		return
	}
	c.Printf("%.1f g\n", w)
}

func (s *shell) watch(c *ishell.Context) {
	d := 5 * time.Second
	if len(c.Args) > 0 {
		var err error
		d, err = time.ParseDuration(c.Args[0])
		if err != nil {
			c.Err(err)
			return
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	err := s.scale.Watch(ctx, func(w float64) { c.Printf("%.1f g\n", w) })
	if err != nil && ctx.Err() == nil {
		c.Err(err)
	}
}

func main() {
	cfgPath := flag.String("config", "", "YAML config file (default $"+config.PathEnv+").")
	relayURL := flag.String("relay", "", "Websocket URL of a relay to submit batches to.")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR: load config:", err)
		os.Exit(2)
	}

	s := &shell{
		mech:  &server.Client{Network: cfg.Network, Addr: cfg.SocketPath},
		scale: &weight.Client{Network: cfg.WeightNetwork, Addr: cfg.WeightSocketPath, Timeout: cfg.WeightTimeout},
	}

	if *relayURL != "" {
		log, err := cfg.NewLogger()
		if err != nil {
			fmt.Fprintln(os.Stderr, "ERROR: logger:", err)
			os.Exit(2)
		}
		s.relay = relay.Dial(*relayURL, log)
		defer s.relay.Close()
	}

	sh := ishell.New()
	sh.Println("Brew mechanism development shell")

	sh.AddCmd(s.motion("cone", "move the cone", func(p []machine.Param) machine.Command {
		return machine.MoveCone{Steps: p[0], Speed: p[1], Direction: p[2]}
	}, "steps", "speed", "direction"))
	sh.AddCmd(s.motion("spout", "move the spout", func(p []machine.Param) machine.Command {
		return machine.MoveSpout{Degrees: p[0], Speed: p[1], Direction: p[2]}
	}, "degrees", "speed", "direction"))
	sh.AddCmd(s.motion("both", "move cone and spout together", func(p []machine.Param) machine.Command {
		return machine.MoveBoth{ConeSteps: p[0], ConeSpeed: p[1], SpoutDegrees: p[2], SpoutSpeed: p[3], Direction: p[4]}
	}, "cone_steps", "cone_speed", "spout_degrees", "spout_speed", "direction"))
	sh.AddCmd(&ishell.Cmd{
		Name: "zero",
		Help: "home the spout",
		Func: func(c *ishell.Context) { s.run(c, machine.ZeroSpout{}) },
	})
	sh.AddCmd(&ishell.Cmd{Name: "stop", Help: "stop the mechanism [reason]", Func: s.abort(true)})
	sh.AddCmd(&ishell.Cmd{Name: "resume", Help: "clear the stop state [reason]", Func: s.abort(false)})
	sh.AddCmd(&ishell.Cmd{Name: "send", Help: "send a raw request line <json>", Func: s.send})
	sh.AddCmd(&ishell.Cmd{Name: "relay", Help: "submit a batch through the relay <json>", Func: s.submit})
	sh.AddCmd(&ishell.Cmd{Name: "weight", Help: "read the scale once", Func: s.weight})
	sh.AddCmd(&ishell.Cmd{Name: "watch", Help: "stream scale readings [duration]", Func: s.watch})

	sh.Run()
}

// Package config loads the service configuration.
//
// Values are applied in order: built-in defaults, the YAML file, a .env file
// and finally the process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/mastercactapus/brewmech/machine"
	"github.com/mastercactapus/brewmech/machine/cmdmsg"
)

// PathEnv names the environment variable holding the YAML config path.
const PathEnv = "BREWMECH_CONFIG"

// DriverSim selects the simulated mechanism instead of a serial port.
const DriverSim = "sim"

// Config holds every setting of the brewmech binaries.
type Config struct {
	SerialPort   string `yaml:"serial_port" env:"SERIAL_PORT"`
	BaudRate     int    `yaml:"baud_rate" env:"BAUD_RATE"`
	SerialDriver string `yaml:"serial_driver" env:"SERIAL_DRIVER"`

	Network    string `yaml:"network" env:"MECH_NETWORK"`
	SocketPath string `yaml:"socket" env:"MECH_SOCKET"`
	SocketMode string `yaml:"socket_mode" env:"MECH_SOCKET_MODE"`

	WeightNetwork    string        `yaml:"weight_network" env:"WEIGHT_NETWORK"`
	WeightSocketPath string        `yaml:"weight_socket" env:"WEIGHT_SOCKET"`
	WeightTimeout    time.Duration `yaml:"weight_timeout" env:"WEIGHT_TIMEOUT"`
	WeightThreshold  float64       `yaml:"weight_threshold" env:"WEIGHT_THRESHOLD"`

	CommandTimeout time.Duration            `yaml:"command_timeout" env:"COMMAND_TIMEOUT"`
	Timeouts       map[string]time.Duration `yaml:"timeouts" env:"-"`
	PollInterval   time.Duration            `yaml:"poll_interval" env:"POLL_INTERVAL"`

	ClearAbortOnBatch bool `yaml:"clear_abort_on_batch" env:"CLEAR_ABORT_ON_BATCH"`

	RelayAddr string `yaml:"relay_addr" env:"RELAY_ADDR"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		SerialPort:   "/dev/ttyUSB1",
		BaudRate:     9600,
		SerialDriver: cmdmsg.DriverTarm,

		Network:    "unix",
		SocketPath: "/tmp/mech-control.sock",
		SocketMode: "0",

		WeightNetwork:    "unix",
		WeightSocketPath: "/tmp/mug_scale_service.sock",
		WeightTimeout:    time.Second,
		WeightThreshold:  machine.DefaultWeightThreshold,

		CommandTimeout: machine.DefaultTimeout,
		PollInterval:   machine.DefaultPollInterval,

		ClearAbortOnBatch: true,

		RelayAddr: ":8765",

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load builds a Config from the YAML file at path (or $BREWMECH_CONFIG if
// path is empty), the given dotenv files (".env" if none) and the environment.
// Missing dotenv files are ignored.
func Load(path string, dotenv ...string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(PathEnv)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		err = yaml.UnmarshalStrict(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	environ, err := environment(dotenv)
	if err != nil {
		return nil, err
	}
	err = env.Parse(cfg, env.Options{Environment: environ})
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	return cfg, cfg.Validate()
}

// environment merges the process environment over the dotenv files.
func environment(files []string) (map[string]string, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}

	vars := make(map[string]string)
	for _, name := range files {
		m, err := godotenv.Read(name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		for k, v := range m {
			if _, ok := vars[k]; !ok {
				vars[k] = v
			}
		}
	}

	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		vars[k] = v
	}
	return vars, nil
}

// FileMode returns SocketMode parsed as an octal permission.
func (c *Config) FileMode() (os.FileMode, error) {
	m, err := strconv.ParseUint(c.SocketMode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid socket mode %q", c.SocketMode)
	}
	return os.FileMode(m), nil
}

func checkNetwork(name, network string) error {
	switch network {
	case "unix", "tcp", "tcp4", "tcp6":
		return nil
	}
	return fmt.Errorf("invalid %s %q", name, network)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := checkNetwork("network", c.Network); err != nil {
		return err
	}
	if err := checkNetwork("weight network", c.WeightNetwork); err != nil {
		return err
	}
	if _, err := c.FileMode(); err != nil {
		return err
	}

	switch c.SerialDriver {
	case cmdmsg.DriverTarm, cmdmsg.DriverBugst, DriverSim:
	default:
		return fmt.Errorf("invalid serial driver %q", c.SerialDriver)
	}
	if c.SerialDriver != DriverSim && c.BaudRate <= 0 {
		return fmt.Errorf("invalid baud rate %d", c.BaudRate)
	}

	if c.WeightThreshold <= 0 {
		return errors.New("weight threshold must be positive")
	}
	if c.CommandTimeout <= 0 || c.PollInterval <= 0 || c.WeightTimeout <= 0 {
		return errors.New("timeouts and poll interval must be positive")
	}
	for name, d := range c.Timeouts {
		if d <= 0 {
			return fmt.Errorf("timeout for %s must be positive", name)
		}
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// MachineConfig returns the coordinator settings.
func (c *Config) MachineConfig() machine.Config {
	return machine.Config{
		ExecutorConfig: machine.ExecutorConfig{
			WeightThreshold: c.WeightThreshold,
			Timeout:         c.CommandTimeout,
			Timeouts:        c.Timeouts,
		},
		PollInterval: c.PollInterval,
		KeepAbort:    !c.ClearAbortOnBatch,
	}
}

// PortConfig returns the serial port settings.
func (c *Config) PortConfig() cmdmsg.PortConfig {
	return cmdmsg.PortConfig{Name: c.SerialPort, Baud: c.BaudRate, Driver: c.SerialDriver}
}

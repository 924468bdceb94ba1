package config

import (
	"io/ioutil"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

func parseLevel(s string) (logrus.Level, error) {
	switch strings.ToLower(s) {
	case "off", "none":
		return logrus.PanicLevel, nil
	}
	return logrus.ParseLevel(s)
}

// NewLogger creates the logger described by the config.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	switch strings.ToLower(c.LogLevel) {
	case "off", "none":
		logger.SetOutput(ioutil.Discard)
	}
	return logger, nil
}

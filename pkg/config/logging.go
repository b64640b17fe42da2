package config

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogSettings configure the global zerolog logger. Format is json, text or auto; auto
// picks text when stderr is a terminal.
type LogSettings struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	WithCaller bool   `mapstructure:"with_caller"`
}

func InitLogger(s LogSettings) error {
	return initLogger(s, os.Stderr)
}

func initLogger(s LogSettings, stderr *os.File) error {
	level := zerolog.InfoLevel
	if s.Level != "" {
		l, err := zerolog.ParseLevel(s.Level)
		if err != nil {
			return errors.Wrapf(err, "log level %q", s.Level)
		}
		level = l
	}

	var w io.Writer
	switch s.Format {
	case "text":
		w = zerolog.ConsoleWriter{Out: stderr}
	case "json":
		w = stderr
	case "", "auto":
		if isatty.IsTerminal(stderr.Fd()) || isatty.IsCygwinTerminal(stderr.Fd()) {
			w = zerolog.ConsoleWriter{Out: stderr}
		} else {
			w = stderr
		}
	default:
		return errors.Errorf("unknown log format %q", s.Format)
	}

	if s.File != "" {
		w = io.MultiWriter(w, zerolog.ConsoleWriter{
			NoColor: true,
			Out: &lumberjack.Logger{
				Filename:   s.File,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			},
		})
	}

	logger := zerolog.New(w).With().Timestamp()
	if s.WithCaller {
		logger = logger.Caller()
	}
	log.Logger = logger.Logger()
	zerolog.SetGlobalLevel(level)
	return nil
}

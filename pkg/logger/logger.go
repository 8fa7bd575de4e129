package logx

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Debug        bool   `split_words:"true" default:"false"`
	PrettyFormat bool   `split_words:"true" default:"false"`
	Service      string `split_words:"true" default:"relay-support-router"`
}

// Init replaces the global logger. Without a config it logs JSON at info level.
func Init(opts ...Config) {
	var conf Config
	if len(opts) > 0 {
		conf = opts[0]
	}
	log.Logger = New(os.Stdout, conf)
}

func New(w io.Writer, conf Config) zerolog.Logger {
	if conf.PrettyFormat {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}

	level := zerolog.InfoLevel
	if conf.Debug {
		level = zerolog.DebugLevel
	}

	lc := zerolog.New(w).Level(level).With().Timestamp()
	if service := strings.TrimSpace(conf.Service); service != "" {
		lc = lc.Str("service", service)
	}
	if conf.Debug {
		lc = lc.Caller()
	}
	return lc.Logger()
}

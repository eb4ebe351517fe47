package logx

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Level        string `default:"info"`
	Debug        bool   `split_words:"true" default:"false"`
	PrettyFormat bool   `split_words:"true" default:"false"`
	Service      string `default:"chat-orchestrator"`
}

var DefaultConfig = Config{Level: "info", Service: "chat-orchestrator"}

// Init replaces the global logger. LOG_DEBUG wins over LOG_LEVEL; an unknown
// level falls back to info.
func Init(opts ...Config) {
	conf := DefaultConfig
	if len(opts) > 0 {
		conf = opts[0]
	}
	log.Logger = New(os.Stdout, conf)
	zerolog.SetGlobalLevel(log.Logger.GetLevel())
}

// New builds a logger writing to w; Init uses it for the process logger.
func New(w io.Writer, conf Config) zerolog.Logger {
	if conf.PrettyFormat {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}
	ctx := zerolog.New(w).With().Timestamp()
	if s := strings.TrimSpace(conf.Service); s != "" {
		ctx = ctx.Str("service", s)
	}
	return ctx.Caller().Logger().Level(ParseLevel(conf))
}

func ParseLevel(conf Config) zerolog.Level {
	if conf.Debug {
		return zerolog.DebugLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(conf.Level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Component returns the global logger tagged with a component name. Call it
// after Init; the result does not follow later Init calls.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

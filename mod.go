// Package elector implements a coordinator for elections whose record lives on
// a ledger while the descriptive data lives in a content-addressed store.
//
// The root package only holds the global logger and the list of prometheus
// collectors that the packages register.
package elector

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// EnvLogLevel is the name of the environment variable to change the logging
// level.
const EnvLogLevel = "LLVL"

const defaultLevel = zerolog.InfoLevel

var logout = zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.RFC3339,
}

// Logger is a globally available logger instance. By default, it only prints
// info level logs, but it can be changed through the LLVL environment
// variable.
var Logger = zerolog.New(logout).Level(levelFromEnv()).
	With().Timestamp().Logger().
	With().Caller().Logger()

// PromCollectors exposes the prometheus collectors of the packages. A package
// appends its collectors in its init function and the command registers them
// when the metrics handler is enabled.
var PromCollectors []prometheus.Collector

func levelFromEnv() zerolog.Level {
	switch os.Getenv(EnvLogLevel) {
	case "error":
		return zerolog.ErrorLevel
	case "warn":
		return zerolog.WarnLevel
	case "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	case "trace":
		return zerolog.TraceLevel
	case "":
		return defaultLevel
	default:
		return zerolog.TraceLevel
	}
}

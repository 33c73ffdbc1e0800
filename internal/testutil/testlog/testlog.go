package testlog

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/secondlife/leap/internal/logging"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	l := logging.New("test")
	l.Info().Str("test", t.Name()).Msg("start")
}

// Logger returns a logger tagged with the running test's name.
func Logger(t *testing.T) zerolog.Logger {
	t.Helper()
	logging.ConfigureTests()
	return logging.New("test").With().Str("test", t.Name()).Logger()
}

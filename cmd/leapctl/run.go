package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/secondlife/leap/internal/config"
	"github.com/secondlife/leap/internal/logging"
	"github.com/secondlife/leap/internal/observability"
	"github.com/secondlife/leap/internal/protocol/frame"
	"github.com/secondlife/leap/internal/protocol/session"
	"github.com/secondlife/leap/internal/puppetry"
)

// run drives one session over in/out until the host stops it, closes the
// stream, or ctx ends.
func run(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer) error {
	if cfg.LogLevel != "" && !logging.SetLevel(cfg.LogLevel) {
		return fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	logger := logging.New("leapctl")

	opts := []session.Option{
		session.WithConfig(cfg.Session()),
		session.WithLogger(logging.New("session")),
	}
	if cfg.DumpPath != "" {
		f, err := os.OpenFile(cfg.DumpPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open dump: %w", err)
		}
		opts = append(opts, session.WithDump(frame.NewDump(f)))
	}

	sess := session.New(in, out, opts...)
	defer sess.Stop()
	puppetry.New(sess, logging.New("puppetry"))

	if cfg.MetricsAddr != "" {
		srv := observability.NewMetricsServer(cfg.MetricsAddr, logging.New("metrics"), func() bool {
			return sess.State() != session.StateStopped
		})
		go func() {
			if err := srv.Serve(); err != nil {
				logger.Warn().Err(err).Msg("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := sess.Start(ctx); err != nil {
		return err
	}
	err := sess.Run(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrStreamClosed), errors.Is(err, context.Canceled):
		logger.Info().Err(err).Msg("session ended")
		return nil
	default:
		return err
	}
}

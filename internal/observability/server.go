package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// MetricsServer exposes /metrics and /healthz on a side address. The plugin's
// stdio stays reserved for protocol frames.
type MetricsServer struct {
	logger zerolog.Logger
	srv    *http.Server
	health func() bool
}

// NewMetricsServer builds the router. health may be nil, in which case
// /healthz always reports ok.
func NewMetricsServer(addr string, logger zerolog.Logger, health func() bool) *MetricsServer {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)

	m := &MetricsServer{logger: logger, health: health}
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", m.healthz)

	m.srv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return m
}

func (m *MetricsServer) Handler() http.Handler {
	return m.srv.Handler
}

func (m *MetricsServer) healthz(c *gin.Context) {
	if m.health != nil && !m.health() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stopped"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Serve listens and serves until Shutdown. It returns nil on a clean shutdown.
func (m *MetricsServer) Serve() error {
	ln, err := net.Listen("tcp", m.srv.Addr)
	if err != nil {
		return err
	}
	m.logger.Info().Str("addr", ln.Addr().String()).Msg("metrics listening")
	err = m.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

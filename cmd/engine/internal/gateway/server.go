package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/shubham-shewale/vwap-stream/cmd/engine/internal/hub"
	"github.com/shubham-shewale/vwap-stream/cmd/engine/internal/ingest"
	"github.com/shubham-shewale/vwap-stream/cmd/engine/internal/vwap"
)

// IngestStatus is the part of the ingestion loop the status endpoint reports on
type IngestStatus interface {
	State() ingest.State
	Stats() (applied, rejected int64)
}

// HTTPServer serves websocket subscribers and the status endpoints
type HTTPServer struct {
	engine *gin.Engine
	srv    *http.Server
	hub    *hub.Hub
	store  *vwap.Store
	ingest IngestStatus
	logger *zap.Logger
	opts   Options
}

func NewHTTPServer(addr string, h *hub.Hub, store *vwap.Store, status IngestStatus, logger *zap.Logger, opts Options) *HTTPServer {
	if !logger.Core().Enabled(zap.DebugLevel) {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &HTTPServer{
		engine: gin.New(),
		hub:    h,
		store:  store,
		ingest: status,
		logger: logger,
		opts:   opts,
	}
	s.engine.Use(gin.Recovery())
	s.setupRoutes()

	s.srv = &http.Server{Addr: addr, Handler: s.engine}
	return s
}

func (s *HTTPServer) setupRoutes() {
	s.engine.GET("/ws", s.handleWebSocket)
	s.engine.GET("/healthz", s.getHealth)
	s.engine.GET("/api/vwap", s.getVWAP)
}

// Handler exposes the router, mainly for httptest
func (s *HTTPServer) Handler() http.Handler { return s.engine }

// Start blocks serving HTTP until Shutdown
func (s *HTTPServer) Start() error {
	s.logger.Info("HTTP server started", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *HTTPServer) handleWebSocket(c *gin.Context) {
	conn, _, _, err := ws.UpgradeHTTP(c.Request, c.Writer)
	if err != nil {
		s.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn, wsTransport{}, s.hub, s.logger, s.opts)
	s.hub.Register(client)
	client.Start()
}

func (s *HTTPServer) getHealth(c *gin.Context) {
	applied, rejected := s.ingest.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"ingest":      s.ingest.State().String(),
		"subscribers": s.hub.Len(),
		"symbols":     s.store.Len(),
		"applied":     applied,
		"rejected":    rejected,
	})
}

func (s *HTTPServer) getVWAP(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Snapshot())
}

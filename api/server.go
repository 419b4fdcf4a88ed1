// Package api exposes the engine's administrative HTTP surface: scan and
// repair discrepancies, request distributions, and run the settings-change
// workflow. Every mutating route requires an authenticated actor.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/causelift/campaign-engine/db"
	"github.com/causelift/campaign-engine/metrics"
)

// Server provides the admin HTTP endpoints.
type Server struct {
	logger     zerolog.Logger
	server     *http.Server
	database   *db.DB
	aggregator Scanner
	repairer   Repairer
	engine     Distributor
	governance Governance
}

// NewServer wires the admin server. authTokens maps bearer tokens to actor
// identities; an "admin:" prefix on the identity grants the admin role.
func NewServer(logger zerolog.Logger, port int, database *db.DB, aggregator Scanner, repairer Repairer, engine Distributor, governance Governance, authTokens map[string]string) *Server {
	s := &Server{
		logger:     logger.With().Str("component", "admin_server").Logger(),
		database:   database,
		aggregator: aggregator,
		repairer:   repairer,
		engine:     engine,
		governance: governance,
	}

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.setupRoutes(authTokens),
	}
	return s
}

func (s *Server) setupRoutes(authTokens map[string]string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/api/v1", authMiddleware(authTokens))
	{
		v1.GET("/discrepancies", s.handleScanDiscrepancies)
		v1.POST("/discrepancies/repair", s.handleRepair)

		v1.POST("/distributions", s.handleRequestDistribution)
		v1.GET("/distributions/:id", s.handleGetDistribution)

		v1.POST("/settings-changes", s.handleRequestSettingsChange)
		v1.GET("/settings-changes/:id", s.handleGetSettingsChange)
		v1.POST("/settings-changes/:id/approve", s.handleApproveSettingsChange)
		v1.POST("/settings-changes/:id/execute", s.handleExecuteSettingsChange)
		v1.POST("/settings-changes/:id/cancel", s.handleCancelSettingsChange)
	}

	return router
}

// Start starts the HTTP server. It verifies the port binds before returning
// so a misconfigured port fails loudly at startup instead of in the first
// request.
func (s *Server) Start() error {
	if s.server == nil {
		return fmt.Errorf("admin server is nil")
	}

	startupChan := make(chan error, 1)

	go func() {
		ln, err := net.Listen("tcp", s.server.Addr)
		if err != nil {
			startupChan <- fmt.Errorf("failed to bind to address %s: %w", s.server.Addr, err)
			return
		}
		ln.Close()

		startupChan <- nil

		err = s.server.ListenAndServe()
		switch err {
		case nil, http.ErrServerClosed:
			s.logger.Info().Msg("admin server stopped")
		default:
			s.logger.Error().Err(err).Msg("admin server failed")
		}
	}()

	if err := <-startupChan; err != nil {
		return err
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("admin server listening")
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

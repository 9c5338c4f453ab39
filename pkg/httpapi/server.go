// Package httpapi serves the MCP endpoint over streamable HTTP for
// deployments where stdio is not an option, plus a health probe.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/leap-laboratories/discovery-engine-mcp/pkg/config"
	"github.com/leap-laboratories/discovery-engine-mcp/pkg/version"
)

// Server hosts the MCP streamable-HTTP endpoint and the health probe.
type Server struct {
	httpSrv *http.Server
	router  *gin.Engine
	logger  *slog.Logger
}

// NewServer builds the HTTP server. The MCP endpoint lives at /mcp;
// every connection shares the one tool server.
func NewServer(cfg *config.HTTPConfig, mcpServer *mcpsdk.Server, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestID(), securityHeaders())

	router.GET("/healthz", handleHealth)

	streamable := mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return mcpServer
	}, nil)
	router.Any("/mcp", gin.WrapH(streamable))

	return &Server{
		httpSrv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		router: router,
		logger: logger.With("component", "httpapi"),
	}
}

// Handler exposes the router, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving requests until Shutdown is called or the
// listener fails.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpSrv.Addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": version.AppName,
		"version": version.GitCommit,
	})
}

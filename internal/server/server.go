// Package server exposes the generation stages over HTTP with gin.
package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/temirov/autoreel/internal/pipeline"
)

const (
	scriptPath   = "/api/script"
	imagePath    = "/api/image"
	videoPath    = "/api/video"
	subtitlePath = "/api/subtitle"
	healthPath   = "/api/health"
	healthStatus = "ok"
)

// StaticMount serves a read-only directory under URLPrefix.
type StaticMount struct {
	URLPrefix  string
	FileSystem http.FileSystem
}

type Options struct {
	Runner    pipeline.StageRunner
	Providers map[string]bool
	Static    *StaticMount
	Logger    *zap.Logger
}

type Server struct {
	runner    pipeline.StageRunner
	providers map[string]bool
	logger    *zap.Logger
}

type healthResponse struct {
	Status    string          `json:"status"`
	Providers map[string]bool `json:"providers"`
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(options Options) *gin.Engine {
	registerValidators()

	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	handlerSet := &Server{runner: options.Runner, providers: options.Providers, logger: logger}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	router.POST(scriptPath, handlerSet.handleScript)
	router.POST(imagePath, handlerSet.handleImage)
	router.POST(videoPath, handlerSet.handleVideo)
	router.POST(subtitlePath, handlerSet.handleSubtitle)
	router.GET(healthPath, handlerSet.handleHealth)

	if options.Static != nil && options.Static.FileSystem != nil && strings.TrimSpace(options.Static.URLPrefix) != "" {
		router.StaticFS(options.Static.URLPrefix, options.Static.FileSystem)
	}
	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	providers := make(map[string]bool, len(s.providers))
	for name, configured := range s.providers {
		providers[name] = configured
	}
	c.JSON(http.StatusOK, healthResponse{Status: healthStatus, Providers: providers})
}

package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"miniqmt/config"
	"miniqmt/grid"
	"miniqmt/logger"
	"miniqmt/manager"
	"miniqmt/position"
	"miniqmt/signal"
	"miniqmt/store"
)

// MonitorControl toggles signal detection per symbol
type MonitorControl interface {
	SetMonitoring(symbol string, enabled bool)
	Monitored(symbol string) bool
}

// Server HTTP API server
type Server struct {
	router     *gin.Engine
	provider   *config.Provider
	book       *position.Book
	gridEng    *grid.Engine
	broker     *signal.Broker
	events     *store.EventStore
	supervisor *manager.Supervisor
	monitor    MonitorControl
	httpServer *http.Server
	startedAt  time.Time
	port       int
}

// NewServer creates the API server over the live engines
func NewServer(provider *config.Provider, book *position.Book, gridEng *grid.Engine,
	broker *signal.Broker, events *store.EventStore, supervisor *manager.Supervisor,
	monitor MonitorControl, port int) *Server {
	// Release mode keeps gin quiet
	gin.SetMode(gin.ReleaseMode)

	router := gin.Default()
	router.Use(corsMiddleware())

	s := &Server{
		router:     router,
		provider:   provider,
		book:       book,
		gridEng:    gridEng,
		broker:     broker,
		events:     events,
		supervisor: supervisor,
		monitor:    monitor,
		startedAt:  time.Now(),
		port:       port,
	}
	s.setupRoutes()
	return s
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.Any("/health", s.handleHealth)
		api.POST("/login", s.handleLogin)

		protected := api.Group("/", s.authMiddleware())
		{
			protected.GET("/positions", s.handlePositions)
			protected.GET("/grids", s.handleGrids)
			protected.POST("/grids", s.handleStartGrid)
			protected.POST("/grids/:symbol/stop", s.handleStopGrid)
			protected.POST("/symbols/:symbol/monitor", s.handleToggleMonitor)
			protected.GET("/signals", s.handleSignals)
			protected.GET("/events", s.handleEvents)
			protected.POST("/config/reload", s.handleReloadConfig)
		}
	}
}

// authMiddleware JWT authentication middleware
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing Authorization header"})
			c.Abort()
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid Authorization format"})
			c.Abort()
			return
		}

		claims, err := validateJWT(s.provider.Current().JWTSecret, tokenParts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token: " + err.Error()})
			c.Abort()
			return
		}

		c.Set("subject", claims.Subject)
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	workers := gin.H{}
	if s.supervisor != nil {
		for name, since := range s.supervisor.Status() {
			workers[name] = gin.H{"last_beat_ago": since.String()}
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime":         time.Since(s.startedAt).String(),
		"config_version": s.provider.Current().Version,
		"book_version":   s.book.Version(),
		"workers":        workers,
	})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap := s.provider.Current()
	if snap.AdminPassword == "" || req.Password != snap.AdminPassword {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid password"})
		return
	}

	token, err := generateJWT(snap.JWTSecret, "admin")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":   s.book.Version(),
		"positions": s.book.List(),
	})
}

func (s *Server) handleGrids(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.gridEng.Sessions()})
}

func (s *Server) handleStartGrid(c *gin.Context) {
	var req struct {
		grid.Params
		DurationHours float64 `json:"duration_hours"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.DurationHours > 0 {
		req.Params.Duration = time.Duration(req.DurationHours * float64(time.Hour))
	}

	session, err := s.gridEng.StartSession(req.Params)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": session})
}

func (s *Server) handleStopGrid(c *gin.Context) {
	symbol := c.Param("symbol")
	if err := s.gridEng.StopSession(symbol, "manual"); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Grid session for %s stopped", symbol)})
}

func (s *Server) handleToggleMonitor(c *gin.Context) {
	if s.monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Monitor not running"})
		return
	}

	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	symbol := c.Param("symbol")
	s.monitor.SetMonitoring(symbol, *req.Enabled)
	logger.Infof("📊 Monitoring for %s set to %v via API", symbol, *req.Enabled)
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "monitored": s.monitor.Monitored(symbol)})
}

func (s *Server) handleSignals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pending": s.broker.Pending()})
}

func (s *Server) handleEvents(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	events, err := s.events.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) handleReloadConfig(c *gin.Context) {
	snap, err := s.provider.Reload()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": snap.Version})
}

// Start blocks serving HTTP until Shutdown
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	logger.Infof("🌐 API server starting at http://localhost%s", addr)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lumahealth/scangate/internal/abuse"
	"github.com/lumahealth/scangate/internal/analyzer"
	"github.com/lumahealth/scangate/internal/config"
	"github.com/lumahealth/scangate/internal/handler"
	"github.com/lumahealth/scangate/internal/identity"
	"github.com/lumahealth/scangate/internal/middleware"
	"github.com/lumahealth/scangate/internal/ratelimit"
	"github.com/lumahealth/scangate/internal/repository"
	"github.com/lumahealth/scangate/internal/service"
	"github.com/lumahealth/scangate/internal/storage"
	"github.com/lumahealth/scangate/internal/tier"
)

type Server struct {
	router     *gin.Engine
	config     *config.Config
	redis      *storage.RedisClient
	postgres   *storage.Postgres
	auditSink  *service.AuditSink
	tiers      *tier.Resolver
	httpServer *http.Server
}

func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres) (*Server, error) {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	overrides := make([]tier.Override, 0, len(cfg.Gate.Tiers))
	for _, o := range cfg.Gate.Tiers {
		overrides = append(overrides, tier.Override{
			Name:          o.Name,
			RequestLimit:  o.RequestLimit,
			WindowSeconds: o.WindowSeconds,
			StartingScans: o.StartingScans,
		})
	}

	table, err := tier.NewTable(overrides)
	if err != nil {
		return nil, err
	}

	fingerprintRepo := repository.NewFingerprintRepository(postgres)
	quotaRepo := repository.NewQuotaRepository(postgres)
	auditRepo := repository.NewAuditRepository(postgres)
	userRepo := repository.NewUserRepository(postgres)

	auditSink := service.NewAuditSink(auditRepo, 1024)

	identities := identity.NewResolver(cfg.Auth.JWTSecret)
	tiers := tier.NewResolver(userRepo, redis)
	abuseEngine := abuse.NewEngine(
		cfg.Gate.AbuseFlagCapacity,
		time.Duration(cfg.Gate.AbuseFlagTTLSeconds)*time.Second,
		cfg.Server.Environment,
	)
	limiter := ratelimit.NewFallback(
		ratelimit.NewRedisWindow(redis),
		ratelimit.NewMemoryWindow(),
	)
	quotas := service.NewQuotaService(quotaRepo, auditSink)
	fingerprints := service.NewFingerprintService(fingerprintRepo, auditSink)

	gate := service.NewGate(identities, abuseEngine, tiers, table, limiter, quotas, auditSink)

	analysisClient := analyzer.NewClient(
		cfg.Analyzer.URL,
		time.Duration(cfg.Analyzer.TimeoutSeconds)*time.Second,
	)

	scanHandler := handler.NewScanHandler(gate, analysisClient)
	quotaHandler := handler.NewQuotaHandler(gate)
	adminHandler := handler.NewAdminHandler(fingerprints, quotaRepo, auditSink)

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS())

	s := &Server{
		router:    router,
		config:    cfg,
		redis:     redis,
		postgres:  postgres,
		auditSink: auditSink,
		tiers:     tiers,
	}

	router.GET("/health", s.healthCheck)

	v1 := router.Group("/v1")
	{
		v1.POST("/scans", middleware.Admission(gate, fingerprints), scanHandler.Create)
		v1.GET("/quota", quotaHandler.Status)
	}

	admin := router.Group("/admin")
	admin.Use(middleware.RequireAdmin(identities, tiers))
	{
		admin.GET("/devices/:fingerprint", adminHandler.GetDevice)
		admin.POST("/devices/:fingerprint/block", adminHandler.BlockDevice)
		admin.DELETE("/devices/:fingerprint/block", adminHandler.UnblockDevice)
		admin.POST("/subjects/:key/block", adminHandler.BlockSubject)
		admin.DELETE("/subjects/:key/block", adminHandler.UnblockSubject)
	}

	return s, nil
}

func (s *Server) healthCheck(c *gin.Context) {
	redisHealthy := true
	if err := s.redis.Ping(c.Request.Context()); err != nil {
		redisHealthy = false
		log.Printf("Redis health check failed: %v", err)
	}

	dbHealthy := true
	if err := s.postgres.Ping(c.Request.Context()); err != nil {
		dbHealthy = false
		log.Printf("Database health check failed: %v", err)
	}

	status := "healthy"
	statusCode := http.StatusOK

	// The gate stays up on dependency loss; degraded only means admission
	// is running on its documented fallbacks.
	if !redisHealthy || !dbHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "scangate",
		"timestamp": time.Now().Unix(),
		"checks": gin.H{
			"redis":        redisHealthy,
			"database":     dbHealthy,
			"tier_breaker": s.tiers.BreakerState().String(),
		},
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	log.Printf("Starting scan gate on %s", addr)
	log.Printf("Environment: %s", s.config.Server.Environment)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down server...")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	// Flush pending audit events after in-flight requests finish
	s.auditSink.Close()

	return err
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountdomain "github.com/smallbiznis/featuregate/internal/account/domain"
	authdomain "github.com/smallbiznis/featuregate/internal/auth/domain"
	billingdomain "github.com/smallbiznis/featuregate/internal/billing/domain"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/config"
	entitlementdomain "github.com/smallbiznis/featuregate/internal/entitlement/domain"
	obsmiddleware "github.com/smallbiznis/featuregate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/featuregate/internal/observability/metrics"
	"github.com/smallbiznis/featuregate/internal/reconcile"
)

// NewEngine builds the shared gin engine with the request middleware chain
// and the operational endpoints.
func NewEngine(log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(obsmiddleware.GinMiddleware(log))
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		AbortWithError(c, ErrMethodNotAllowed)
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	verifier       authdomain.Verifier
	accounts       accountdomain.Repository
	entitlementSvc entitlementdomain.Service
	billing        billingdomain.Gateway
	reconciler     *reconcile.Worker
	clock          clock.Clock
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Verifier       authdomain.Verifier
	Accounts       accountdomain.Repository
	EntitlementSvc entitlementdomain.Service
	Billing        billingdomain.Gateway
	Reconciler     *reconcile.Worker
	Clock          clock.Clock
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		log:            p.Log.Named("server"),
		genID:          p.GenID,
		verifier:       p.Verifier,
		accounts:       p.Accounts,
		entitlementSvc: p.EntitlementSvc,
		billing:        p.Billing,
		reconciler:     p.Reconciler,
		clock:          p.Clock,
	}
}

// RegisterAPIRoutes mounts the module management and billing endpoints.
func (s *Server) RegisterAPIRoutes() {
	modules := s.engine.Group("/modules", s.AuthRequired())
	modules.GET("", s.ListModules)
	modules.POST("/add", s.AddModule)
	modules.POST("/remove", s.RemoveModule)

	billing := s.engine.Group("/billing")
	billing.POST("/webhooks/stripe", s.StripeWebhook)

	internal := s.engine.Group("/internal", s.AuthRequired())
	internal.POST("/reconcile", s.TriggerReconcile)
}

// RunHTTP starts the HTTP listener under the fx lifecycle.
func RunHTTP(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.ListenAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

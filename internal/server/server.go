package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/storlock/internal/checkout"
	"github.com/smallbiznis/storlock/internal/config"
	"github.com/smallbiznis/storlock/internal/invoicefile"
	"github.com/smallbiznis/storlock/internal/reconcile"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(log.Named("http")))
	r.Use(CORSMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	log          *zap.Logger
	reconcileSvc *reconcile.Service
	checkoutSvc  *checkout.Service
	invoiceSvc   *invoicefile.Service
}

type ServerParams struct {
	fx.In

	Engine       *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	ReconcileSvc *reconcile.Service
	CheckoutSvc  *checkout.Service
	InvoiceSvc   *invoicefile.Service
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:       p.Engine,
		cfg:          p.Cfg,
		log:          p.Log.Named("server"),
		reconcileSvc: p.ReconcileSvc,
		checkoutSvc:  p.CheckoutSvc,
		invoiceSvc:   p.InvoiceSvc,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.POST("/webhooks/stripe", s.HandleStripeWebhook)

	api := s.engine.Group("/api", AuthMiddleware(s.cfg.AuthJWTSecret))
	api.POST("/checkout-sessions", s.HandleCreateCheckoutSession)
	api.POST("/invoices/download", s.HandleDownloadInvoice)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_ = ctx
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

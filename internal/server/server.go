// Package server exposes the HTTP API.
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

	"github.com/duecycle/duecycle/internal/balance"
	"github.com/duecycle/duecycle/internal/billingrun"
	"github.com/duecycle/duecycle/internal/charge"
	chargedomain "github.com/duecycle/duecycle/internal/charge/domain"
	"github.com/duecycle/duecycle/internal/clock"
	"github.com/duecycle/duecycle/internal/config"
	"github.com/duecycle/duecycle/internal/member"
	memberdomain "github.com/duecycle/duecycle/internal/member/domain"
	"github.com/duecycle/duecycle/internal/settings"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	settings.Module,
	balance.Module,
	member.Module,
	charge.Module,
	billingrun.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
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

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	genID      *snowflake.Node
	clock      clock.Clock
	memberSvc  memberdomain.Service
	chargeSvc  chargedomain.Service
	billingRun *billingrun.Service
	balances   *balance.Service
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	GenID      *snowflake.Node
	Clock      clock.Clock
	MemberSvc  memberdomain.Service
	ChargeSvc  chargedomain.Service
	BillingRun *billingrun.Service
	Balances   *balance.Service
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		genID:      p.GenID,
		clock:      p.Clock,
		memberSvc:  p.MemberSvc,
		chargeSvc:  p.ChargeSvc,
		billingRun: p.BillingRun,
		balances:   p.Balances,
	}
	s.registerAPIRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.OrgContext())

	// -------- Members --------
	api.GET("/members", s.ListMembers)
	api.POST("/members", s.CreateMember)
	api.GET("/members/:id", s.GetMemberByID)
	api.GET("/members/:id/balance", s.GetMemberBalance)
	api.POST("/members/:id/balance/recompute", s.RecomputeMemberBalance)

	// -------- Subscriptions --------
	api.GET("/members/:id/subscriptions", s.ListMemberSubscriptions)
	api.POST("/members/:id/subscriptions", s.AssignProduct)
	api.DELETE("/members/:id/subscriptions/:subscriptionId", s.UnassignProduct)
	api.PUT("/members/:id/subscriptions/:subscriptionId/discount", s.ApplySubscriptionDiscount)
	api.DELETE("/members/:id/subscriptions/:subscriptionId/discount", s.RemoveSubscriptionDiscount)

	// -------- Charges --------
	api.GET("/charges", s.ListCharges)
	api.POST("/charges", s.CreateCharge)
	api.GET("/charges/:id", s.GetChargeByID)
	api.DELETE("/charges/:id", s.DeleteCharge)
	api.POST("/charges/restore", s.RestoreCharge)
	api.PUT("/charges/:id/discount", s.ApplyChargeDiscount)
	api.DELETE("/charges/:id/discount", s.RemoveChargeDiscount)

	// -------- Payments --------
	api.POST("/payments", s.RecordPayment)
	api.POST("/charges/:id/payments/:paymentId", s.LinkPayment)
	api.GET("/payments/by-gateway-ref/:ref", s.GetPaymentByGatewayRef)

	// -------- Billing --------
	api.POST("/billing/run", s.RunBilling)
	api.POST("/billing/reconcile-legacy", s.ReconcileLegacyStatuses)
}

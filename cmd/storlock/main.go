package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storlock/internal/checkout"
	"github.com/smallbiznis/storlock/internal/clock"
	"github.com/smallbiznis/storlock/internal/config"
	"github.com/smallbiznis/storlock/internal/invoicefile"
	"github.com/smallbiznis/storlock/internal/logger"
	"github.com/smallbiznis/storlock/internal/migration"
	"github.com/smallbiznis/storlock/internal/notify"
	"github.com/smallbiznis/storlock/internal/observability/metrics"
	paymentrepo "github.com/smallbiznis/storlock/internal/payment/repository"
	"github.com/smallbiznis/storlock/internal/reconcile"
	rentalrepo "github.com/smallbiznis/storlock/internal/rental/repository"
	"github.com/smallbiznis/storlock/internal/scheduler"
	"github.com/smallbiznis/storlock/internal/server"
	"github.com/smallbiznis/storlock/internal/stripe"
	unitrepo "github.com/smallbiznis/storlock/internal/unit/repository"
	"github.com/smallbiznis/storlock/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		metrics.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		stripe.Module,

		// Repositories
		fx.Provide(unitrepo.Provide),
		fx.Provide(rentalrepo.Provide),
		fx.Provide(paymentrepo.Provide),

		// Functional domains
		notify.Module,
		reconcile.Module,
		checkout.Module,
		invoicefile.Module,
		scheduler.Module,
		migration.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

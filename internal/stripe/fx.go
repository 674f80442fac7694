package stripe

import (
	"github.com/smallbiznis/storlock/internal/config"
	"go.uber.org/fx"
)

func NewClientFromConfig(cfg config.Config) *Client {
	return NewClient(cfg.StripeSecretKey)
}

var Module = fx.Module("stripe",
	fx.Provide(NewClientFromConfig),
)

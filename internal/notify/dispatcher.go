package notify

import (
	"context"
	"time"

	"github.com/smallbiznis/storlock/internal/config"
	"github.com/smallbiznis/storlock/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Dispatcher queues messages and delivers them off the webhook request path.
// The queue is bounded; when it is full the message is dropped and logged,
// matching the contract that notification failure never blocks reconciliation.
type Dispatcher struct {
	log     *zap.Logger
	sender  Sender
	obs     *metrics.Metrics
	queue   chan Message
	done    chan struct{}
	timeout time.Duration
}

type Params struct {
	fx.In

	Log    *zap.Logger
	Cfg    config.Config
	Obs    *metrics.Metrics `optional:"true"`
	Sender Sender           `optional:"true"`
}

func NewDispatcher(p Params) *Dispatcher {
	sender := p.Sender
	if sender == nil {
		sender = NewTwilioSender(p.Cfg.TwilioAccountSID, p.Cfg.TwilioAuthToken, p.Cfg.TwilioFromNumber)
	}
	return &Dispatcher{
		log:     p.Log.Named("notify"),
		sender:  sender,
		obs:     p.Obs,
		queue:   make(chan Message, 256),
		done:    make(chan struct{}),
		timeout: 15 * time.Second,
	}
}

// Enqueue submits a message for asynchronous delivery. Never blocks.
func (d *Dispatcher) Enqueue(msg Message) {
	select {
	case d.queue <- msg:
	default:
		d.log.Warn("notification queue full, dropping message", zap.String("to", msg.To))
		d.obs.RecordNotification("dropped")
	}
}

func (d *Dispatcher) Start() {
	go d.run()
}

func (d *Dispatcher) Stop() {
	close(d.queue)
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	if d.sender == nil {
		d.log.Info("notification sender not configured, skipping",
			zap.String("to", msg.To))
		d.obs.RecordNotification("skipped")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.sender.Send(ctx, msg); err != nil {
		d.log.Warn("notification delivery failed",
			zap.String("to", msg.To),
			zap.Error(err))
		d.obs.RecordNotification("failed")
		return
	}
	d.obs.RecordNotification("sent")
}

func registerHooks(lc fx.Lifecycle, d *Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_ = ctx
			d.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			_ = ctx
			d.Stop()
			return nil
		},
	})
}

var Module = fx.Module("notify",
	fx.Provide(NewDispatcher),
	fx.Invoke(registerHooks),
)

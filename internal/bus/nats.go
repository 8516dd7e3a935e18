// Package bus fans tick records and alerts out to NATS subjects as JSON.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"dn-carry-bot/internal/config"
	"dn-carry-bot/internal/controller"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

type Publisher struct {
	conn         Conn
	tickSubject  string
	alertSubject string
	log          *zap.Logger
}

func Connect(cfg config.NATSConfig, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.URL == "" {
		return nil, errors.New("nats url is required")
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("dn-carry-bot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, err
	}
	return New(nc, cfg, log), nil
}

func New(conn Conn, cfg config.NATSConfig, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{conn: conn, tickSubject: cfg.TickSubject, alertSubject: cfg.AlertSubject, log: log}
}

// Record implements controller.Recorder.
func (p *Publisher) Record(_ context.Context, rec controller.TickRecord) {
	p.publish(p.tickSubject, rec)
}

// Alert implements controller.Alerter.
func (p *Publisher) Alert(_ context.Context, alert controller.Alert) {
	p.publish(p.alertSubject, alert)
}

func (p *Publisher) publish(subject string, v any) {
	if p == nil || p.conn == nil || subject == "" {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		p.log.Warn("nats encode failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		p.log.Warn("nats publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

func (p *Publisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

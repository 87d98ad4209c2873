package persistence

import (
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/spec-kit/conversation-service/internal/config"
)

// NATS wraps a NATS connection with a JetStream context.
type NATS struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
}

// NewNATS connects to NATS when a URL is configured.
func NewNATS(cfg config.NATSConfig, logger *zap.Logger) (*NATS, error) {
	if cfg.URL == "" {
		logger.Warn("NATS_URL not provided; skipping NATS connection")
		return &NATS{}, nil
	}

	conn, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, err
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("connected to nats", zap.String("url", cfg.URL))
	return &NATS{Conn: conn, JS: js}, nil
}

// Close drains the connection.
func (n *NATS) Close() {
	if n != nil && n.Conn != nil {
		n.Conn.Close()
	}
}

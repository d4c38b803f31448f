package notify

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Connect 连接 NATS，断线后无限重连。
func Connect(url, name string) (*nats.Conn, error) {
	log := logrus.WithField("component", "nats")
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	log.WithField("url", nc.ConnectedUrl()).Info("Connected to NATS")
	return nc, nil
}

// LogPublisher 在未配置 NATS 时使用，只记录通知。
type LogPublisher struct{}

func (LogPublisher) Publish(subject string, data []byte) error {
	logrus.WithField("subject", subject).Infof("Notice (NATS disabled): %s", data)
	return nil
}

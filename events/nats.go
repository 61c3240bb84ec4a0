package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"lane-battle/logging"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const subjectPrefix = "lane.events."

type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// NATSRelay publishes locally and to NATS, and replays events published by
// other instances into the local broker.
type NATSRelay struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	local  *Broker
	origin string
}

func NewNATSRelay(url string, local *Broker) (*NATSRelay, error) {
	conn, err := nats.Connect(url,
		nats.Name("lane-battle"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logging.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	r := &NATSRelay{conn: conn, local: local, origin: uuid.NewString()}
	r.sub, err = conn.Subscribe(subjectPrefix+">", r.handle)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe nats: %w", err)
	}
	// the subscription is live on the server once the round trip returns
	if err := conn.Flush(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("flush nats subscription: %w", err)
	}
	return r, nil
}

func (r *NATSRelay) Publish(topic string, ev Event) {
	r.local.Publish(topic, ev)

	data, err := json.Marshal(envelope{Origin: r.origin, Event: ev})
	if err != nil {
		logging.Error("marshal relay event", zap.Error(err), zap.String("topic", topic))
		return
	}
	if err := r.conn.Publish(subjectPrefix+topic, data); err != nil {
		logging.Warn("relay publish failed", zap.Error(err), zap.String("topic", topic))
	}
}

func (r *NATSRelay) handle(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		logging.Warn("drop malformed relay event", zap.Error(err), zap.String("subject", msg.Subject))
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.local.Publish(strings.TrimPrefix(msg.Subject, subjectPrefix), env.Event)
}

func (r *NATSRelay) Close() {
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
	r.conn.Close()
}

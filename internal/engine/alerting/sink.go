package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"hooksync/internal/engine/ingest"
	"hooksync/internal/platform/config"
)

// Sink delivers one alert.
type Sink interface {
	Notify(ctx context.Context, a Alert) error
}

// NewSink builds the sink named by cfg.Kind.
func NewSink(cfg config.AlertSinkConfig) (Sink, error) {
	switch cfg.Kind {
	case "", "log":
		return LogSink{}, nil
	case "webhook":
		if cfg.URL == "" {
			return nil, fmt.Errorf("alerting: webhook sink needs a url")
		}
		return NewWebhookSink(cfg.URL, cfg.Secret, cfg.Timeout), nil
	case "amqp":
		return DialAMQP(cfg.URL, cfg.Exchange, cfg.RoutingKey)
	default:
		return nil, fmt.Errorf("alerting: unknown sink kind %q", cfg.Kind)
	}
}

// LogSink writes alerts to the service log.
type LogSink struct{}

func (LogSink) Notify(ctx context.Context, a Alert) error {
	ev := log.Warn()
	if a.Level == LevelCritical {
		ev = log.Error()
	}
	ev.Str("alert_id", a.ID).
		Str("metric", a.Key()).
		Str("level", string(a.Level)).
		Float64("value", a.Value).
		Float64("threshold", a.Threshold).
		Msg(a.Message)
	return nil
}

// WebhookSink POSTs alerts as signed JSON. The signature is the hex
// HMAC-SHA256 of the body under the shared secret.
type WebhookSink struct {
	url    string
	secret string
	client *http.Client
}

func NewWebhookSink(url, secret string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{url: url, secret: secret, client: &http.Client{Timeout: timeout}}
}

func (s *WebhookSink) Notify(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hooksync-Event", "alert."+string(a.Level))
	req.Header.Set("X-Hooksync-Delivery", a.ID)
	if s.secret != "" {
		req.Header.Set("X-Hooksync-Signature", "sha256="+ingest.Sign(s.secret, payload))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver alert: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("deliver alert: HTTP %d", resp.StatusCode)
	}
	return nil
}

// AMQPSink publishes alerts to a topic exchange, routed by level.
type AMQPSink struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	routingKey string
}

func DialAMQP(url, exchange, routingKey string) (*AMQPSink, error) {
	if exchange == "" {
		exchange = "hooksync.alerts"
	}
	if routingKey == "" {
		routingKey = "alert"
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("alerting: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("alerting: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("alerting: declare exchange: %w", err)
	}
	return &AMQPSink{conn: conn, ch: ch, exchange: exchange, routingKey: routingKey}, nil
}

func (s *AMQPSink) Notify(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.ch.PublishWithContext(ctx, s.exchange, s.routingKey+"."+string(a.Level), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    a.ID,
		Timestamp:    time.Unix(a.FiredAt, 0),
		Body:         body,
	})
}

func (s *AMQPSink) Close() error {
	if err := s.ch.Close(); err != nil {
		s.conn.Close()
		return err
	}
	return s.conn.Close()
}

package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"killsense/internal/model"
)

// Log writes each payload as a structured log record.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (*Log) Name() string { return ProviderLog }

func (l *Log) Deliver(_ context.Context, r *model.InterestResult, p Payload, _ model.DeliveryConfig) bool {
	if l.logger == nil {
		return true
	}
	l.logger.Info("notification",
		"profile", r.Profile,
		"kill_id", r.KillID,
		"tier", p.Tier,
		"interest", r.Interest,
		"title", p.Title,
		"fields", p.Fields,
	)
	return true
}

// Webhook POSTs the payload as JSON.
type Webhook struct {
	client *http.Client
	logger *slog.Logger
}

func NewWebhook(logger *slog.Logger) *Webhook {
	return &Webhook{client: &http.Client{}, logger: logger}
}

func (*Webhook) Name() string { return ProviderWebhook }

func (w *Webhook) Deliver(ctx context.Context, r *model.InterestResult, p Payload, cfg model.DeliveryConfig) bool {
	if cfg.URL == "" {
		w.warn("webhook url missing", r, nil)
		return false
	}
	body, err := json.Marshal(p)
	if err != nil {
		w.warn("webhook encode failed", r, err)
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, timeout(cfg))
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		w.warn("webhook request failed", r, err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		w.warn("webhook post failed", r, err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		w.warn("webhook rejected", r, fmt.Errorf("status %d", resp.StatusCode))
		return false
	}
	return true
}

func (w *Webhook) warn(msg string, r *model.InterestResult, err error) {
	if w.logger != nil {
		w.logger.Warn(msg, "profile", r.Profile, "kill_id", r.KillID, "err", err)
	}
}

// Kafka publishes payloads keyed by kill id. Writers are created per
// broker list and topic and reused.
type Kafka struct {
	logger *slog.Logger

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func NewKafka(logger *slog.Logger) *Kafka {
	return &Kafka{logger: logger, writers: make(map[string]*kafka.Writer)}
}

func (*Kafka) Name() string { return ProviderKafka }

func (k *Kafka) writer(cfg model.DeliveryConfig) *kafka.Writer {
	key := strings.Join(cfg.Brokers, ",") + "|" + cfg.Topic
	k.mu.Lock()
	defer k.mu.Unlock()
	if w, ok := k.writers[key]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: timeout(cfg),
	}
	k.writers[key] = w
	return w
}

func (k *Kafka) Deliver(ctx context.Context, r *model.InterestResult, p Payload, cfg model.DeliveryConfig) bool {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		k.warn("kafka delivery needs brokers and topic", r, nil)
		return false
	}
	value, err := json.Marshal(p)
	if err != nil {
		k.warn("kafka encode failed", r, err)
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, timeout(cfg))
	defer cancel()
	err = k.writer(cfg).WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(r.KillID, 10)),
		Value: value,
	})
	if err != nil {
		k.warn("kafka write failed", r, err)
		return false
	}
	return true
}

// Close flushes and closes every writer.
func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	var first error
	for key, w := range k.writers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
		delete(k.writers, key)
	}
	return first
}

func (k *Kafka) warn(msg string, r *model.InterestResult, err error) {
	if k.logger != nil {
		k.logger.Warn(msg, "profile", r.Profile, "kill_id", r.KillID, "err", err)
	}
}

package report

import (
	"encoding/json"
	"fmt"

	"github.com/arturoeanton/wshbox/engine"
	"github.com/arturoeanton/wshbox/ioc"
	"github.com/go-redis/redis"
)

// Message types published on the IOC channel
const (
	MessageEvent    = "event"
	MessageAnalysis = "analysis"
)

// Message is one JSON document published on the IOC channel.
type Message struct {
	Type       string     `json:"type"`
	AnalysisID string     `json:"analysis_id"`
	Sample     string     `json:"sample"`
	SHA256     string     `json:"sha256"`
	Event      *ioc.Event `json:"event,omitempty"`
	Summary    *Summary   `json:"summary,omitempty"`
}

// RedisPublisher publishes the events of finished analyses on a redis
// channel, followed by one analysis summary message.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	owned   bool
}

// NewRedisPublisher connects to the configured redis server.
func NewRedisPublisher(cfg engine.RedisConfig) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping().Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	p := NewRedisPublisherWithClient(client, cfg.Channel)
	p.owned = true
	return p, nil
}

// NewRedisPublisherWithClient publishes through an existing client, which
// Close leaves open.
func NewRedisPublisherWithClient(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = "wshbox:ioc"
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Client returns the underlying client, shared with the rate limiter.
func (p *RedisPublisher) Client() *redis.Client { return p.client }

// Channel returns the channel messages are published on.
func (p *RedisPublisher) Channel() string { return p.channel }

// Publish sends every event of res and the analysis summary in one pipeline.
func (p *RedisPublisher) Publish(res *engine.Result) error {
	messages, err := encodeMessages(res)
	if err != nil {
		return err
	}
	pipe := p.client.Pipeline()
	defer pipe.Close()
	for _, m := range messages {
		pipe.Publish(p.channel, m)
	}
	if _, err := pipe.Exec(); err != nil {
		return fmt.Errorf("publishing analysis %s: %w", res.ID, err)
	}
	return nil
}

// Close closes the client when the publisher opened it.
func (p *RedisPublisher) Close() error {
	if p.owned {
		return p.client.Close()
	}
	return nil
}

func encodeMessages(res *engine.Result) ([]string, error) {
	messages := make([]string, 0, len(res.Events)+1)
	base := Message{AnalysisID: res.ID, Sample: res.Sample, SHA256: res.SHA256}
	for i := range res.Events {
		m := base
		m.Type = MessageEvent
		m.Event = &res.Events[i]
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("encoding event %s: %w", res.Events[i].ID, err)
		}
		messages = append(messages, string(data))
	}
	summary := Summarize(res)
	m := base
	m.Type = MessageAnalysis
	m.Summary = &summary
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(messages, string(data)), nil
}

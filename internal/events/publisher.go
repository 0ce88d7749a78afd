// Package events publishes accepted transcript turns to Kafka so
// downstream consumers (scoring, archival) see them as they happen.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// TurnEvent is the wire payload for one accepted transcript turn.
type TurnEvent struct {
	InterviewID string    `json:"interview_id"`
	Topic       string    `json:"topic"`
	Speaker     string    `json:"speaker"`
	Text        string    `json:"text"`
	Index       int       `json:"index"`
	At          time.Time `json:"at"`
}

// Config holds Kafka publisher configuration. Disabled or broker-less
// configs put the publisher in log-only mode.
type Config struct {
	Brokers          []string
	TopicInterviewer string
	TopicCandidate   string
	Enabled          bool
}

// messageWriter is the slice of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes interviewer and candidate turns to separate topics.
// The zero-value-disabled mode logs events instead of dropping them, so
// local runs without a broker still leave a trace.
type Publisher struct {
	interviewer messageWriter
	candidate   messageWriter

	topicInterviewer string
	topicCandidate   string
	enabled          bool
	logger           *slog.Logger
}

// New creates a publisher from the config.
func New(cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topicInterviewer: cfg.TopicInterviewer,
		topicCandidate:   cfg.TopicCandidate,
		logger:           logger,
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info("kafka disabled, turn events run in log-only mode")
		return p
	}

	p.interviewer = newWriter(cfg.Brokers, cfg.TopicInterviewer)
	p.candidate = newWriter(cfg.Brokers, cfg.TopicCandidate)
	p.enabled = true
	logger.Info("kafka publisher initialized",
		"brokers", cfg.Brokers,
		"topic_interviewer", cfg.TopicInterviewer,
		"topic_candidate", cfg.TopicCandidate)
	return p
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}
}

// PublishInterviewer publishes an interviewer turn.
func (p *Publisher) PublishInterviewer(ctx context.Context, ev TurnEvent) error {
	return p.publish(ctx, p.interviewer, p.topicInterviewer, ev)
}

// PublishCandidate publishes a candidate turn.
func (p *Publisher) PublishCandidate(ctx context.Context, ev TurnEvent) error {
	return p.publish(ctx, p.candidate, p.topicCandidate, ev)
}

func (p *Publisher) publish(ctx context.Context, w messageWriter, topic string, ev TurnEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal turn: %w", err)
	}

	p.logger.Debug("publishing turn event",
		"topic", topic, "interview_id", ev.InterviewID, "speaker", ev.Speaker, "index", ev.Index)

	if !p.enabled || w == nil {
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(ev.InterviewID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "speaker", Value: []byte(ev.Speaker)},
			{Key: "topic", Value: []byte(ev.Topic)},
		},
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("kafka write failed", "topic", topic, "error", err)
		return fmt.Errorf("events: publish to %s: %w", topic, err)
	}
	return nil
}

// Close closes both writers, returning the last error seen.
func (p *Publisher) Close() error {
	var err error
	if p.interviewer != nil {
		if e := p.interviewer.Close(); e != nil {
			p.logger.Error("closing interviewer writer", "error", e)
			err = e
		}
	}
	if p.candidate != nil {
		if e := p.candidate.Close(); e != nil {
			p.logger.Error("closing candidate writer", "error", e)
			err = e
		}
	}
	return err
}

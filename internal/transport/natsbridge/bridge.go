// Package natsbridge exposes the decision core over NATS: inbound events
// arrive as JSON on the check subject and every decision is published on the
// decision subject, and also sent to the reply inbox when the request had one.
package natsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/modbot/internal/db"
	apperrors "github.com/iamwavecut/modbot/internal/errors"
	"github.com/iamwavecut/modbot/internal/infra"
	"github.com/iamwavecut/modbot/internal/moderation"
)

const (
	queueGroup     = "modbot"
	processTimeout = 30 * time.Second

	eventWorkers    = 16
	eventQueueDepth = 32
)

type Processor interface {
	Process(ctx context.Context, ev moderation.InboundEvent) (moderation.Decision, error)
}

type Config struct {
	URL             string
	Name            string
	CheckSubject    string
	DecisionSubject string
	ReconnectWait   time.Duration
	MaxReconnects   int
}

func DefaultConfig() Config {
	return Config{
		Name:            "modbot",
		CheckSubject:    "moderation.check",
		DecisionSubject: "moderation.decision",
		ReconnectWait:   2 * time.Second,
		MaxReconnects:   -1,
	}
}

// DecisionMessage is the payload published for every processed event.
type DecisionMessage struct {
	UserID    int64 `json:"user_id"`
	MessageID int64 `json:"message_id"`
	moderation.Decision
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// publisher is the part of *nats.Conn the message handler needs.
type publisher interface {
	Publish(subject string, data []byte) error
}

type Bridge struct {
	cfg       Config
	processor Processor
	logger    *log.Entry

	runMutex  sync.Mutex
	conn      *nats.Conn
	sub       *nats.Subscription
	shards    *infra.Shards
	runCancel context.CancelFunc
}

func New(cfg Config, processor Processor) *Bridge {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.CheckSubject == "" {
		cfg.CheckSubject = def.CheckSubject
	}
	if cfg.DecisionSubject == "" {
		cfg.DecisionSubject = def.DecisionSubject
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = def.ReconnectWait
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = def.MaxReconnects
	}
	return &Bridge{
		cfg:       cfg,
		processor: processor,
		logger:    log.WithField("object", "NATSBridge"),
	}
}

func (b *Bridge) Start(ctx context.Context) error {
	b.runMutex.Lock()
	defer b.runMutex.Unlock()
	if b.conn != nil {
		return nil
	}

	conn, err := nats.Connect(b.cfg.URL,
		nats.Name(b.cfg.Name),
		nats.ReconnectWait(b.cfg.ReconnectWait),
		nats.MaxReconnects(b.cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.logger.WithError(err).Warn("disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.logger.WithField("url", nc.ConnectedUrl()).Info("reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			b.logger.Debug("connection closed")
		}),
	)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	shards := infra.NewShards(eventWorkers, eventQueueDepth)
	sub, err := conn.QueueSubscribe(b.cfg.CheckSubject, queueGroup, func(msg *nats.Msg) {
		b.onMessage(runCtx, conn, shards, msg)
	})
	if err != nil {
		cancel()
		shards.Close()
		conn.Close()
		return fmt.Errorf("nats subscribe %s: %w", b.cfg.CheckSubject, err)
	}

	b.conn = conn
	b.sub = sub
	b.shards = shards
	b.runCancel = cancel
	b.logger.WithFields(log.Fields{
		"url":     conn.ConnectedUrl(),
		"subject": b.cfg.CheckSubject,
	}).Info("listening")
	return nil
}

// Stop stops taking requests, lets the queued ones finish and then drains the
// connection. Requests still buffered in the client when the workers close
// are answered with a retryable error.
func (b *Bridge) Stop(ctx context.Context) error {
	b.runMutex.Lock()
	conn, sub, shards, cancel := b.conn, b.sub, b.shards, b.runCancel
	b.conn, b.sub, b.shards, b.runCancel = nil, nil, nil, nil
	b.runMutex.Unlock()
	if conn == nil {
		return nil
	}
	defer cancel()

	if err := sub.Drain(); err != nil {
		b.logger.WithError(err).Warn("subscription drain failed")
	}

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		shards.Close()
	}()
	select {
	case <-ctx.Done():
		cancel()
		conn.Close()
		return ctx.Err()
	case <-finished:
	}

	closed := make(chan struct{})
	conn.SetClosedHandler(func(*nats.Conn) { close(closed) })
	if err := conn.Drain(); err != nil {
		conn.Close()
	}

	select {
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	case <-closed:
		return nil
	}
}

// onMessage decodes a request and queues it on the worker owning its user, so
// events of one user are decided in order and other users are not held up.
func (b *Bridge) onMessage(ctx context.Context, pub publisher, shards *infra.Shards, msg *nats.Msg) {
	ev, err := decodeEvent(msg.Data, time.Now())
	if err != nil {
		b.logger.WithError(err).Debug("rejecting malformed event")
		b.reply(pub, msg, encodeDecision(DecisionMessage{Error: err.Error()}))
		return
	}

	err = shards.Submit(ctx, ev.UserID, func() {
		infra.GoRecoverable(0, fmt.Sprintf("event:%d:%d", ev.UserID, ev.MessageID), func() {
			pctx, cancel := context.WithTimeout(ctx, processTimeout)
			defer cancel()
			b.reply(pub, msg, b.decide(pctx, ev))
		}, nil)
	})
	if err != nil {
		b.logger.WithError(err).WithField("user_id", ev.UserID).Warn("event not queued")
		b.reply(pub, msg, encodeDecision(DecisionMessage{
			UserID:    ev.UserID,
			MessageID: ev.MessageID,
			Error:     err.Error(),
			Retryable: true,
		}))
	}
}

func (b *Bridge) reply(pub publisher, msg *nats.Msg, payload []byte) {
	if msg.Reply != "" {
		if err := msg.Respond(payload); err != nil {
			b.logger.WithError(err).Warn("cant respond")
		}
	}
	if err := pub.Publish(b.cfg.DecisionSubject, payload); err != nil {
		b.logger.WithError(err).Warn("cant publish decision")
	}
}

// decide runs one event through the processor and encodes the answer. It
// never fails: errors travel inside the payload.
func (b *Bridge) decide(ctx context.Context, ev moderation.InboundEvent) []byte {
	out := DecisionMessage{UserID: ev.UserID, MessageID: ev.MessageID}
	decision, err := b.processor.Process(ctx, ev)
	if err != nil {
		b.logger.WithError(err).WithField("user_id", ev.UserID).Error("cant process event")
		out.Error = err.Error()
		out.Retryable = apperrors.IsRetryable(err)
	}
	out.Decision = decision
	return encodeDecision(out)
}

func decodeEvent(data []byte, now time.Time) (moderation.InboundEvent, error) {
	var ev moderation.InboundEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("%w: decode event: %w", apperrors.ErrValidation, err)
	}
	if ev.UserID == 0 {
		return ev, fmt.Errorf("%w: user_id is required", apperrors.ErrValidation)
	}
	if ev.ArrivalTime.IsZero() {
		ev.ArrivalTime = now
	}
	return ev, nil
}

func encodeDecision(m DecisionMessage) []byte {
	if m.Action == "" {
		m.Action = db.ActionNone
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return []byte(`{"action":"none","error":"encode decision"}`)
	}
	return payload
}

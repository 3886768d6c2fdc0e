// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/teradata-labs/agentos/pkg/types"
)

// Stream names and delivery parameters.
const (
	StreamAgentTasks  = "AGENT_TASKS"
	StreamAgentEvents = "AGENT_EVENTS"
	StreamSystem      = "SYSTEM"

	maxDeliver            = 3
	ackWait               = 30 * time.Second
	systemMaxAge          = 7 * 24 * time.Hour
	advisoryMaxDeliveries = "$JS.EVENT.ADVISORY.CONSUMER.MAX_DELIVERIES.>"
)

// InboxSubject is the durable ingress subject for one agent.
func InboxSubject(agentID string) string {
	return fmt.Sprintf("agent.%s.inbox", agentID)
}

// DLQSubject is where max-delivery exceedances from a stream land.
func DLQSubject(stream string) string {
	return "system.dlq." + strings.ToLower(stream)
}

// Transport is the publishing surface the gateway and registry need. The
// NATS broker implements it; tests substitute an in-memory fake.
type Transport interface {
	Publish(ctx context.Context, subject string, msg *types.AgentMessage) error
	// Subscribe attaches a durable push consumer. The durable name keeps
	// consumer state across pause/resume cycles.
	Subscribe(subject, durable string, handler func(*types.AgentMessage)) (Subscription, error)
	// SubscribeReply attaches an ephemeral core-NATS subscription, used
	// for per-call reply inboxes.
	SubscribeReply(subject string, handler func(*types.AgentMessage)) (Subscription, error)
	// NewReplyInbox allocates a unique reply subject.
	NewReplyInbox() string
}

// Subscription is a pausable message flow. Pause detaches the push consumer
// without destroying its durable state; Resume re-attaches it.
type Subscription interface {
	Pause() error
	Resume() error
	Unsubscribe() error
}

// NATSBroker adapts a JetStream connection to the Transport interface.
type NATSBroker struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewNATSBroker connects and provisions the three streams.
func NewNATSBroker(url string, logger *zap.Logger) (*NATSBroker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("opening jetstream context: %w", err)
	}

	b := &NATSBroker{nc: nc, js: js, logger: logger}
	if err := b.ensureStreams(); err != nil {
		nc.Close()
		return nil, err
	}
	if err := b.subscribeDLQAdvisory(); err != nil {
		nc.Close()
		return nil, err
	}
	return b, nil
}

func (b *NATSBroker) ensureStreams() error {
	streams := []*nats.StreamConfig{
		{
			Name:      StreamAgentTasks,
			Subjects:  []string{"agent.*.inbox"},
			Retention: nats.WorkQueuePolicy,
		},
		{
			Name:      StreamAgentEvents,
			Subjects:  []string{"agent.events.>"},
			Retention: nats.InterestPolicy,
		},
		{
			Name:      StreamSystem,
			Subjects:  []string{"system.>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    systemMaxAge,
		},
	}
	for _, cfg := range streams {
		if _, err := b.js.AddStream(cfg); err != nil {
			if _, updateErr := b.js.UpdateStream(cfg); updateErr != nil {
				return fmt.Errorf("ensuring stream %s: %w", cfg.Name, err)
			}
		}
	}
	return nil
}

// subscribeDLQAdvisory routes messages that exhausted their deliveries to
// the DLQ subject, annotated with enough metadata for offline inspection.
func (b *NATSBroker) subscribeDLQAdvisory() error {
	_, err := b.nc.Subscribe(advisoryMaxDeliveries, func(msg *nats.Msg) {
		var advisory struct {
			Stream    string `json:"stream"`
			Consumer  string `json:"consumer"`
			StreamSeq uint64 `json:"stream_seq"`
		}
		if err := json.Unmarshal(msg.Data, &advisory); err != nil {
			b.logger.Warn("unparseable max-deliveries advisory", zap.Error(err))
			return
		}

		raw, err := b.js.GetMsg(advisory.Stream, advisory.StreamSeq)
		if err != nil {
			b.logger.Warn("fetching dead message",
				zap.String("stream", advisory.Stream),
				zap.Uint64("seq", advisory.StreamSeq),
				zap.Error(err))
			return
		}

		var original types.AgentMessage
		if err := json.Unmarshal(raw.Data, &original); err != nil {
			b.logger.Warn("unparseable dead message", zap.Error(err))
			return
		}
		dead, err := types.NewAgentMessage(types.MessageTypeSystemDLQ, original.Source, original.Target, json.RawMessage(raw.Data))
		if err != nil {
			b.logger.Error("building dlq envelope", zap.Error(err))
			return
		}
		dead.Metadata = map[string]string{}
		dead.Metadata["originalStream"] = advisory.Stream
		dead.Metadata["consumer"] = advisory.Consumer
		dead.Metadata["sequence"] = fmt.Sprintf("%d", advisory.StreamSeq)
		dead.CausationID = original.ID

		if err := b.Publish(context.Background(), DLQSubject(advisory.Stream), dead); err != nil {
			b.logger.Error("publishing to dlq", zap.Error(err))
			return
		}
		b.logger.Warn("message routed to dlq",
			zap.String("stream", advisory.Stream),
			zap.String("consumer", advisory.Consumer),
			zap.Uint64("seq", advisory.StreamSeq))
	})
	return err
}

// Publish serializes the envelope onto a subject. JetStream subjects get
// durable publish; others fall back to core NATS.
func (b *NATSBroker) Publish(ctx context.Context, subject string, msg *types.AgentMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}
	if strings.HasPrefix(subject, "_INBOX.") {
		return b.nc.Publish(subject, data)
	}
	_, err = b.js.Publish(subject, data, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// Subscribe attaches a durable push consumer delivering decoded envelopes.
func (b *NATSBroker) Subscribe(subject, durable string, handler func(*types.AgentMessage)) (Subscription, error) {
	sub := &natsSubscription{broker: b, subject: subject, durable: durable, handler: handler}
	if err := sub.attach(); err != nil {
		return nil, err
	}
	return sub, nil
}

// SubscribeReply attaches an ephemeral core subscription for reply inboxes.
func (b *NATSBroker) SubscribeReply(subject string, handler func(*types.AgentMessage)) (Subscription, error) {
	raw, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		envelope, err := decodeEnvelope(msg.Data)
		if err != nil {
			b.logger.Warn("unparseable reply", zap.String("subject", subject), zap.Error(err))
			return
		}
		handler(envelope)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to reply inbox: %w", err)
	}
	return &replySubscription{sub: raw}, nil
}

// NewReplyInbox allocates a unique _INBOX subject.
func (b *NATSBroker) NewReplyInbox() string {
	return nats.NewInbox()
}

// Close drains the connection.
func (b *NATSBroker) Close() error {
	return b.nc.Drain()
}

// Healthy reports broker connectivity for readiness checks.
func (b *NATSBroker) Healthy() bool {
	return b.nc.Status() == nats.CONNECTED
}

// natsSubscription is a durable push consumer that can detach and re-attach
// without losing its consumer state. The durable name anchors redelivery
// across the pause.
type natsSubscription struct {
	broker  *NATSBroker
	subject string
	durable string
	handler func(*types.AgentMessage)

	mu     sync.Mutex
	sub    *nats.Subscription
	paused bool
}

func (s *natsSubscription) attach() error {
	raw, err := s.broker.js.Subscribe(s.subject, func(msg *nats.Msg) {
		envelope, err := decodeEnvelope(msg.Data)
		if err != nil {
			s.broker.logger.Warn("unparseable envelope",
				zap.String("subject", s.subject), zap.Error(err))
			_ = msg.Term()
			return
		}
		s.handler(envelope)
		_ = msg.Ack()
	},
		nats.Durable(s.durable),
		nats.ManualAck(),
		nats.AckWait(ackWait),
		nats.MaxDeliver(maxDeliver))
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", s.subject, err)
	}
	s.sub = raw
	return nil
}

func (s *natsSubscription) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused || s.sub == nil {
		return nil
	}
	// Detach the push consumer; the durable keeps its position so Resume
	// picks up exactly where delivery stopped.
	if err := s.sub.Unsubscribe(); err != nil {
		return err
	}
	s.sub = nil
	s.paused = true
	return nil
}

func (s *natsSubscription) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return nil
	}
	if err := s.attach(); err != nil {
		return err
	}
	s.paused = false
	return nil
}

func (s *natsSubscription) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	if s.sub == nil {
		return nil
	}
	err := s.sub.Unsubscribe()
	s.sub = nil
	return err
}

type replySubscription struct {
	sub *nats.Subscription
}

func (r *replySubscription) Pause() error  { return nil }
func (r *replySubscription) Resume() error { return nil }
func (r *replySubscription) Unsubscribe() error {
	return r.sub.Unsubscribe()
}

func decodeEnvelope(data []byte) (*types.AgentMessage, error) {
	var msg types.AgentMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

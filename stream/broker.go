package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/embedpdf/pdfdispatch"
	"github.com/embedpdf/pdfdispatch/ext"
)

// Compile-time interface checks.
var (
	_ ext.Extension           = (*Broker)(nil)
	_ ext.OperationQueued     = (*Broker)(nil)
	_ ext.OperationDispatched = (*Broker)(nil)
	_ ext.OperationCompleted  = (*Broker)(nil)
	_ ext.OperationFailed     = (*Broker)(nil)
	_ ext.OperationAborted    = (*Broker)(nil)
	_ ext.OperationSuperseded = (*Broker)(nil)
	_ ext.DocumentOpened      = (*Broker)(nil)
	_ ext.DocumentClosed      = (*Broker)(nil)
	_ ext.Shutdown            = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker is an ext.Extension that fans dispatcher lifecycle events out to
// subscribers. Publishing never blocks: an event no subscriber could take
// is counted as dropped.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]*Subscriber

	published atomic.Int64
	dropped   atomic.Int64

	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a broker. A nil logger uses slog.Default.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		subs:           make(map[string]*Subscriber),
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Subscribe registers a subscriber on topics. A previous subscriber with
// the same id is removed and its channel closed.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.mu.Lock()
	old := b.subs[subscriberID]
	b.subs[subscriberID] = sub
	b.mu.Unlock()

	if old != nil {
		b.topics.Unsubscribe(old)
		old.Close()
	}
	b.topics.Subscribe(sub, topics...)
	return sub
}

// SubscribeTo adds topics to a registered subscriber. It reports false for
// an unknown id.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) bool {
	sub, ok := b.Subscriber(subscriberID)
	if ok {
		b.topics.Subscribe(sub, topics...)
	}
	return ok
}

// Unsubscribe takes a subscriber off topics without closing it.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	if len(topics) == 0 {
		return
	}
	if sub, ok := b.Subscriber(subscriberID); ok {
		b.topics.Unsubscribe(sub, topics...)
	}
}

// Topics returns the topics a subscriber is on.
func (b *Broker) Topics(subscriberID string) []string {
	sub, ok := b.Subscriber(subscriberID)
	if !ok {
		return nil
	}
	return b.topics.TopicsOf(sub)
}

// Remove unregisters a subscriber and closes its channel.
func (b *Broker) Remove(subscriberID string) {
	b.mu.Lock()
	sub := b.subs[subscriberID]
	delete(b.subs, subscriberID)
	b.mu.Unlock()

	if sub != nil {
		b.topics.Unsubscribe(sub)
		sub.Close()
	}
}

// Subscriber looks up a subscriber by id.
func (b *Broker) Subscriber(subscriberID string) (*Subscriber, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[subscriberID]
	return sub, ok
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	b.mu.Lock()
	n := len(b.subs)
	b.mu.Unlock()
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: n,
		TotalPublished:  b.published.Load(),
		TotalDropped:    b.dropped.Load(),
	}
}

// BrokerStats contains broker counters. TotalPublished counts deliveries;
// TotalDropped counts events nobody received.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

func (b *Broker) publish(evt *Event, class string) {
	topics := resolveTopics(evt, class)
	delivered := b.topics.Broadcast(topics, evt)
	b.published.Add(int64(delivered))
	if delivered == 0 {
		b.dropped.Add(1)
	}
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

func (b *Broker) publishOp(typ EventType, op ext.Operation, data OperationEventData) {
	data.Seq = op.Seq
	data.Method = op.Method
	data.DocID = op.DocID
	data.Class = op.Class.String()
	data.DedupKey = op.DedupKey

	evt := &Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Data:      mustMarshal(data),
	}
	if op.DocID != "" {
		evt.Topic = DocumentTopic(op.DocID)
	}
	b.publish(evt, data.Class)
}

// ── Operation lifecycle hooks ───────────────────────

func (b *Broker) OnOperationQueued(_ context.Context, op ext.Operation) error {
	b.publishOp(EventOperationQueued, op, OperationEventData{})
	return nil
}

func (b *Broker) OnOperationDispatched(_ context.Context, op ext.Operation, waited time.Duration) error {
	b.publishOp(EventOperationDispatched, op, OperationEventData{WaitedMs: waited.Milliseconds()})
	return nil
}

func (b *Broker) OnOperationCompleted(_ context.Context, op ext.Operation, elapsed time.Duration) error {
	b.publishOp(EventOperationCompleted, op, OperationEventData{ElapsedMs: elapsed.Milliseconds()})
	return nil
}

func (b *Broker) OnOperationFailed(_ context.Context, op ext.Operation, opErr error) error {
	b.publishOp(EventOperationFailed, op, OperationEventData{Error: opErr.Error()})
	return nil
}

func (b *Broker) OnOperationAborted(_ context.Context, op ext.Operation, reason error) error {
	data := OperationEventData{}
	if reason != nil {
		data.Error = reason.Error()
	}
	b.publishOp(EventOperationAborted, op, data)
	return nil
}

func (b *Broker) OnOperationSuperseded(_ context.Context, op ext.Operation, dispatched bool) error {
	b.publishOp(EventOperationSuperseded, op, OperationEventData{Dispatched: dispatched})
	return nil
}

// ── Document lifecycle hooks ────────────────────────

func (b *Broker) OnDocumentOpened(_ context.Context, doc *embedpdf.Document) error {
	b.publish(&Event{
		Type:      EventDocumentOpened,
		Timestamp: time.Now().UTC(),
		Topic:     DocumentTopic(doc.ID),
		Data:      mustMarshal(DocumentEventData{DocID: doc.ID, PageCount: doc.PageCount}),
	}, "")
	return nil
}

func (b *Broker) OnDocumentClosed(_ context.Context, docID string) error {
	b.publish(&Event{
		Type:      EventDocumentClosed,
		Timestamp: time.Now().UTC(),
		Topic:     DocumentTopic(docID),
		Data:      mustMarshal(DocumentEventData{DocID: docID}),
	}, "")
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		b.topics.Unsubscribe(sub)
		sub.Close()
	}
	b.logger.Info("stream broker shut down", slog.Int("subscribers", len(subs)))
	return nil
}

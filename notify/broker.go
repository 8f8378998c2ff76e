package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robertor4/transcribe-sub002/cron"
	"github.com/robertor4/transcribe-sub002/ext"
	"github.com/robertor4/transcribe-sub002/job"
)

// Compile-time hook checks.
var (
	_ ext.Extension          = (*Broker)(nil)
	_ ext.JobSubmittedHook   = (*Broker)(nil)
	_ ext.JobStartedHook     = (*Broker)(nil)
	_ ext.JobProgressHook    = (*Broker)(nil)
	_ ext.JobCompletedHook   = (*Broker)(nil)
	_ ext.JobFailedHook      = (*Broker)(nil)
	_ ext.JobRecoveredHook   = (*Broker)(nil)
	_ ext.JobSweptHook       = (*Broker)(nil)
	_ ext.ArtifactPurgedHook = (*Broker)(nil)
	_ ext.CronFiredHook      = (*Broker)(nil)
	_ ext.ShutdownHook       = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker receives lifecycle events through the extension hooks and fans
// them out to subscribers via topic-based pub/sub.
type Broker struct {
	topics *topicRegistry
	logger *slog.Logger

	subscribers sync.Map // subscriberID → *Subscriber

	totalPublished atomic.Int64

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

// NewBroker creates a broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         newTopicRegistry(),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "notify-broker" }

// Subscribe creates a subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := newSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to more topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return
	}
	sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	for _, topic := range topics {
		b.topics.subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber drops a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.unsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// Notifier is the fire-and-forget publish contract. Callers depend on
// it rather than on any connection registry; Broker satisfies it.
type Notifier interface {
	Publish(evt *Event)
}

var _ Notifier = (*Broker)(nil)

// Publish fans a custom event out to its topics.
func (b *Broker) Publish(evt *Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	delivered := b.topics.broadcast(resolveTopics(evt), evt)
	b.totalPublished.Add(int64(delivered))
}

// Stats returns broker counters.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.topicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
	}
}

// BrokerStats contains broker counters.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
}

// SubscriberCount reports how many subscribers a topic has.
func (b *Broker) SubscriberCount(topic string) int {
	return b.topics.subscriberCount(topic)
}

func (b *Broker) publishJob(evt EventType, j *job.Job, data TranscriptionEventData) {
	data.TranscriptionID = j.TranscriptionID.String()
	data.UserID = j.UserID
	data.Status = string(j.Status)
	b.Publish(&Event{
		Type:   evt,
		Topic:  TranscriptionTopic(j.TranscriptionID.String()),
		UserID: j.UserID,
		Data:   mustMarshal(data),
	})
}

// mustMarshal panics on marshal failure, which is a programming error in
// the payload structs.
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("notify: marshal event data: " + err.Error())
	}
	return data
}

// ── Lifecycle hooks ─────────────────────────────────

func (b *Broker) OnJobSubmitted(_ context.Context, j *job.Job) error {
	b.publishJob(EventSubmitted, j, TranscriptionEventData{})
	return nil
}

func (b *Broker) OnJobStarted(_ context.Context, j *job.Job) error {
	b.publishJob(EventStarted, j, TranscriptionEventData{})
	return nil
}

func (b *Broker) OnJobProgress(_ context.Context, j *job.Job, percent int, message string) error {
	b.publishJob(EventProgress, j, TranscriptionEventData{Progress: percent, Message: message})
	return nil
}

func (b *Broker) OnJobCompleted(_ context.Context, j *job.Job, r *job.Result) error {
	b.publishJob(EventCompleted, j, TranscriptionEventData{Progress: 100, Provider: r.Provider})
	return nil
}

func (b *Broker) OnJobFailed(_ context.Context, j *job.Job, _ error) error {
	// The job record's user-facing message is what clients see; the raw
	// cause stays in the logs.
	b.publishJob(EventFailed, j, TranscriptionEventData{Error: j.Error})
	return nil
}

func (b *Broker) OnJobRecovered(_ context.Context, j *job.Job) error {
	b.publishJob(EventRecovered, j, TranscriptionEventData{})
	return nil
}

func (b *Broker) OnJobSwept(_ context.Context, j *job.Job, reason string) error {
	b.publishJob(EventSwept, j, TranscriptionEventData{Reason: reason})
	return nil
}

func (b *Broker) OnArtifactPurged(_ context.Context, j *job.Job) error {
	b.publishJob(EventArtifactPurged, j, TranscriptionEventData{})
	return nil
}

func (b *Broker) OnCronFired(_ context.Context, entry *cron.Entry) error {
	b.Publish(&Event{
		Type: EventCronFired,
		Data: mustMarshal(CronEventData{EntryName: entry.Name, Schedule: entry.Schedule}),
	})
	return nil
}

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		value.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("notify broker shut down")
	return nil
}

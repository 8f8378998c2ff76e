package notify

import (
	"fmt"
	"strings"
	"sync"
)

// Topic names follow a pattern:
//
//	transcription:<trID> — events for one transcription
//	user:<userID>        — all events owned by a user
//	transcriptions       — all transcription lifecycle events
//	firehose             — everything
const (
	TopicTranscriptions = "transcriptions"
	TopicFirehose       = "firehose"
)

// TranscriptionTopic returns the topic for one transcription.
func TranscriptionTopic(trID string) string { return "transcription:" + trID }

// UserTopic returns the topic carrying all of a user's events.
func UserTopic(userID string) string { return "user:" + userID }

// ParseTopicEntity splits an entity topic into type and ID. Global topics
// return ("", "").
func ParseTopicEntity(topic string) (entityType, entityID string) {
	idx := strings.IndexByte(topic, ':')
	if idx < 0 {
		return "", ""
	}
	return topic[:idx], topic[idx+1:]
}

// ValidateTopic checks whether a topic string is subscribable.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicTranscriptions, TopicFirehose:
		return nil
	}
	entityType, entityID := ParseTopicEntity(topic)
	if entityType == "" || entityID == "" {
		return fmt.Errorf("notify: invalid topic %q", topic)
	}
	switch entityType {
	case "transcription", "user":
		return nil
	default:
		return fmt.Errorf("notify: unknown topic entity type %q", entityType)
	}
}

// resolveTopics returns every topic an event fans out to.
func resolveTopics(evt *Event) []string {
	topics := []string{TopicFirehose}
	if strings.HasPrefix(string(evt.Type), "transcription.") {
		topics = append(topics, TopicTranscriptions)
	}
	if evt.Topic != "" {
		topics = append(topics, evt.Topic)
	}
	if evt.UserID != "" {
		topics = append(topics, UserTopic(evt.UserID))
	}
	return topics
}

// topicRegistry maps topics to subscriber sets. Safe for concurrent use.
type topicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber
}

func newTopicRegistry() *topicRegistry {
	return &topicRegistry{topics: make(map[string]map[string]*Subscriber)}
}

func (tr *topicRegistry) subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
	sub.addTopic(topic)
}

func (tr *topicRegistry) unsubscribe(topic, subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	subs, ok := tr.topics[topic]
	if !ok {
		return
	}
	if sub, exists := subs[subscriberID]; exists {
		sub.removeTopic(topic)
		delete(subs, subscriberID)
	}
	if len(subs) == 0 {
		delete(tr.topics, topic)
	}
}

func (tr *topicRegistry) unsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for topic, subs := range tr.topics {
		if sub, ok := subs[subscriberID]; ok {
			sub.removeTopic(topic)
			delete(subs, subscriberID)
		}
		if len(subs) == 0 {
			delete(tr.topics, topic)
		}
	}
}

// broadcast delivers an event to every subscriber on the listed topics,
// deduplicating subscribers present on several of them. Returns how many
// deliveries succeeded.
func (tr *topicRegistry) broadcast(topics []string, evt *Event) int {
	tr.mu.RLock()
	seen := make(map[string]*Subscriber)
	for _, topic := range topics {
		for subID, sub := range tr.topics[topic] {
			seen[subID] = sub
		}
	}
	tr.mu.RUnlock()

	delivered := 0
	for _, sub := range seen {
		if sub.send(evt) {
			delivered++
		}
	}
	return delivered
}

func (tr *topicRegistry) topicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}

func (tr *topicRegistry) subscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics[topic])
}

package stream

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Topic names follow a pattern:
//
//	document:<docID>  events for one document, its operations included
//	class:<name>      operation events for one priority class
//	documents         all document lifecycle events
//	operations        all operation lifecycle events
//	firehose          everything

const (
	TopicDocuments  = "documents"
	TopicOperations = "operations"
	TopicFirehose   = "firehose"
)

// DocumentTopic returns the topic name for a specific document.
func DocumentTopic(docID string) string { return "document:" + docID }

// ClassTopic returns the topic name for a priority class.
func ClassTopic(class string) string { return "class:" + class }

// TopicRegistry maps topics to their subscribers. It is safe for
// concurrent use.
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscriber]struct{}
}

// NewTopicRegistry creates an empty topic registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{topics: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe puts sub on every topic given.
func (tr *TopicRegistry) Subscribe(sub *Subscriber, topics ...string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for _, topic := range topics {
		set := tr.topics[topic]
		if set == nil {
			set = make(map[*Subscriber]struct{})
			tr.topics[topic] = set
		}
		set[sub] = struct{}{}
	}
}

// Unsubscribe takes sub off the given topics, or off every topic when
// none are given. Topics left without subscribers are dropped.
func (tr *TopicRegistry) Unsubscribe(sub *Subscriber, topics ...string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(topics) == 0 {
		for topic := range tr.topics {
			topics = append(topics, topic)
		}
	}
	for _, topic := range topics {
		set, ok := tr.topics[topic]
		if !ok {
			continue
		}
		delete(set, sub)
		if len(set) == 0 {
			delete(tr.topics, topic)
		}
	}
}

// TopicsOf returns the topics sub is on, sorted.
func (tr *TopicRegistry) TopicsOf(sub *Subscriber) []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	var out []string
	for topic, set := range tr.topics {
		if _, ok := set[sub]; ok {
			out = append(out, topic)
		}
	}
	sort.Strings(out)
	return out
}

// Broadcast delivers evt once to each subscriber on any of topics and
// returns the number of deliveries.
func (tr *TopicRegistry) Broadcast(topics []string, evt *Event) int {
	tr.mu.RLock()
	targets := make(map[*Subscriber]struct{})
	for _, topic := range topics {
		for sub := range tr.topics[topic] {
			targets[sub] = struct{}{}
		}
	}
	tr.mu.RUnlock()

	n := 0
	for sub := range targets {
		if sub.send(evt) {
			n++
		}
	}
	return n
}

// TopicCount returns the number of topics with at least one subscriber.
func (tr *TopicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}

// SubscriberCount returns the number of subscribers on topic.
func (tr *TopicRegistry) SubscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics[topic])
}

// resolveTopics returns every topic an event is published to.
func resolveTopics(evt *Event, class string) []string {
	topics := []string{TopicFirehose}

	if strings.HasPrefix(string(evt.Type), "document.") {
		topics = append(topics, TopicDocuments)
	} else {
		topics = append(topics, TopicOperations)
		if class != "" {
			topics = append(topics, ClassTopic(class))
		}
	}
	if evt.Topic != "" {
		topics = append(topics, evt.Topic)
	}
	return topics
}

// ParseTopicEntity splits an entity topic: "document:doc_x" gives
// ("document", "doc_x"). Global topics give ("", "").
func ParseTopicEntity(topic string) (entityType, entityID string) {
	idx := strings.IndexByte(topic, ':')
	if idx < 0 {
		return "", ""
	}
	return topic[:idx], topic[idx+1:]
}

// ValidateTopic checks whether a topic string is valid.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicDocuments, TopicOperations, TopicFirehose:
		return nil
	}

	entityType, entityID := ParseTopicEntity(topic)
	if entityType == "" || entityID == "" {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}

	switch entityType {
	case "document", "class":
		return nil
	default:
		return fmt.Errorf("stream: unknown topic entity type %q", entityType)
	}
}

package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// PublisherManager distributes events to a set of watermill Publishers.
// Subscribe a publisher to a topic; every published event is serialized once
// and delivered to all publishers on their subscribed topics, tagged with a
// monotonically increasing sequence number.
type PublisherManager struct {
	Publishers     map[string][]message.Publisher
	sequenceNumber uint64
	mutex          sync.Mutex
}

func NewPublisherManager() *PublisherManager {
	return &PublisherManager{
		Publishers: make(map[string][]message.Publisher),
	}
}

func (s *PublisherManager) SubscribePublisher(topic string, pub message.Publisher) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Publishers[topic] = append(s.Publishers[topic], pub)
}

// PublishEvent implements Sink.
func (s *PublisherManager) PublishEvent(event Event) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	b, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.Metadata.Set("sequence_number", fmt.Sprintf("%d", s.sequenceNumber))
	msg.Metadata.Set("event_type", string(event.Type()))
	s.sequenceNumber++

	for topic, pubs := range s.Publishers {
		for _, pub := range pubs {
			if err := pub.Publish(topic, msg); err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("failed to publish event")
			}
		}
	}

	return nil
}

var _ Sink = (*PublisherManager)(nil)

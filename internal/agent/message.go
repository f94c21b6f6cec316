package agent

import (
	"Multicast-Agent/internal/core/topic"
)

// Message is one inbound datagram handed to the application.
//
// Known is false when the identifier does not match any registered topic.
// Topic is then empty and ID carries the identifier as received.
type Message struct {
	Topic   string
	ID      topic.ID
	Known   bool
	Payload []byte
	Source  string
}

// Len is the payload size in octets.
func (m Message) Len() int {
	return len(m.Payload)
}

// Handler receives every message the agent delivers. It runs on the receive
// loop, so a slow handler delays all later deliveries.
type Handler interface {
	HandleMessage(Message)
}

type HandlerFunc func(Message)

func (f HandlerFunc) HandleMessage(m Message) {
	f(m)
}

// LogHandler traces each delivery at info level.
func LogHandler() Handler {
	return HandlerFunc(func(m Message) {
		if m.Known {
			log.Infow("RXM", "topic", m.Topic, "len", m.Len(), "data", string(m.Payload), "src", m.Source)
			return
		}
		log.Infow("RXM", "unknown_topic", m.ID.Hex(), "len", m.Len(), "src", m.Source)
	})
}

// UnresolvedPolicy decides what happens to datagrams whose topic is not
// registered locally.
type UnresolvedPolicy int

const (
	// DeliverUnresolved hands them to the Handler with Known set to false.
	DeliverUnresolved UnresolvedPolicy = iota
	// DropUnresolved discards them.
	DropUnresolved
)

func (p UnresolvedPolicy) String() string {
	switch p {
	case DeliverUnresolved:
		return "deliver"
	case DropUnresolved:
		return "drop"
	default:
		return "unknown"
	}
}

// ParseUnresolvedPolicy accepts "deliver", "drop" or "" (deliver).
func ParseUnresolvedPolicy(s string) (UnresolvedPolicy, error) {
	switch s {
	case "", "deliver":
		return DeliverUnresolved, nil
	case "drop":
		return DropUnresolved, nil
	default:
		return 0, ErrInvalidPolicy
	}
}

package agentapi

import (
	"encoding/base64"
	"sync"
	"time"
	"unicode/utf8"

	"Multicast-Agent/internal/agent"
)

// Entry is the JSON form of a received message.
type Entry struct {
	Seq        uint64    `json:"seq"`
	Topic      string    `json:"topic,omitempty"`
	ID         string    `json:"id"`
	Known      bool      `json:"known"`
	Length     int       `json:"length"`
	Data       string    `json:"data,omitempty"`
	DataBase64 string    `json:"data_base64"`
	Source     string    `json:"source,omitempty"`
	At         time.Time `json:"at"`
}

// Inbox keeps the most recent messages an agent delivered and streams new
// ones to subscribers. It forwards every message to Next when set.
type Inbox struct {
	next agent.Handler

	mu     sync.RWMutex
	buf    []Entry
	start  int
	size   int
	seq    uint64
	nextID int
	subs   map[int]chan Entry
}

func NewInbox(capacity int, next agent.Handler) *Inbox {
	if capacity <= 0 {
		capacity = 128
	}
	return &Inbox{
		next: next,
		buf:  make([]Entry, capacity),
		subs: make(map[int]chan Entry),
	}
}

func (in *Inbox) HandleMessage(m agent.Message) {
	e := Entry{
		Topic:      m.Topic,
		ID:         m.ID.Hex(),
		Known:      m.Known,
		Length:     m.Len(),
		DataBase64: base64.StdEncoding.EncodeToString(m.Payload),
		Source:     m.Source,
		At:         time.Now().UTC(),
	}
	if utf8.Valid(m.Payload) {
		e.Data = string(m.Payload)
	}

	in.mu.Lock()
	in.seq++
	e.Seq = in.seq
	idx := (in.start + in.size) % len(in.buf)
	if in.size == len(in.buf) {
		in.start = (in.start + 1) % len(in.buf)
	} else {
		in.size++
	}
	in.buf[idx] = e
	for _, ch := range in.subs {
		select {
		case ch <- e:
		default:
			// Slow stream readers miss entries rather than stall the receive loop.
		}
	}
	in.mu.Unlock()

	if in.next != nil {
		in.next.HandleMessage(m)
	}
}

// Recent returns up to limit entries, oldest first. limit <= 0 returns all.
func (in *Inbox) Recent(limit int) []Entry {
	in.mu.RLock()
	defer in.mu.RUnlock()
	n := in.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	for i := in.size - n; i < in.size; i++ {
		out = append(out, in.buf[(in.start+i)%len(in.buf)])
	}
	return out
}

// Subscribe streams entries delivered after the call. The returned func
// ends the subscription and closes the channel.
func (in *Inbox) Subscribe() (<-chan Entry, func()) {
	in.mu.Lock()
	defer in.mu.Unlock()
	id := in.nextID
	in.nextID++
	ch := make(chan Entry, 64)
	in.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			in.mu.Lock()
			defer in.mu.Unlock()
			delete(in.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Package agent runs a topic pub/sub participant on a multicast group.
//
// An Agent registers interest in topics, frames outgoing messages with the
// topic identifier and runs a receive loop that decodes inbound datagrams
// and hands them to a Handler. Registration is local only; nothing is
// announced to other agents.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"

	"Multicast-Agent/internal/core/network"
	"Multicast-Agent/internal/core/topic"
	"Multicast-Agent/internal/core/wire"
)

var log = logging.Logger("mcast-agent")

var (
	ErrNoTransport    = errors.New("transport required")
	ErrNoGroup        = errors.New("multicast group required")
	ErrAlreadyRunning = errors.New("agent already running")
	ErrStopped        = errors.New("agent stopped")
	ErrInvalidPolicy  = errors.New("invalid unresolved topic policy")
)

// Options configures an Agent.
type Options struct {
	// Name identifies the agent in logs and metrics. A random UUID is used
	// when empty.
	Name  string
	Group network.Group
	// Handler receives inbound messages. Defaults to LogHandler.
	Handler    Handler
	Unresolved UnresolvedPolicy
	// Registerer, when set, receives the agent's counters.
	Registerer prometheus.Registerer
}

type Agent struct {
	name       string
	group      network.Group
	tr         network.Transport
	handler    Handler
	unresolved UnresolvedPolicy
	topics     *topic.Registry
	stats      counters

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// New creates an agent in the Created state. The agent owns tr from here
// on and closes it when it stops.
func New(tr network.Transport, opts Options) (*Agent, error) {
	if tr == nil {
		return nil, ErrNoTransport
	}
	if opts.Group.IsZero() {
		return nil, ErrNoGroup
	}
	if opts.Unresolved != DeliverUnresolved && opts.Unresolved != DropUnresolved {
		return nil, ErrInvalidPolicy
	}
	if opts.Name == "" {
		opts.Name = uuid.NewString()
	}
	if opts.Handler == nil {
		opts.Handler = LogHandler()
	}
	a := &Agent{
		name:       opts.Name,
		group:      opts.Group,
		tr:         tr,
		handler:    opts.Handler,
		unresolved: opts.Unresolved,
		topics:     topic.NewRegistry(),
		done:       make(chan struct{}),
	}
	if opts.Registerer != nil {
		if err := a.stats.register(opts.Registerer, a.name); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return a, nil
}

func (a *Agent) Name() string {
	return a.name
}

func (a *Agent) Group() network.Group {
	return a.group
}

// Register records interest in name and returns its identifier.
func (a *Agent) Register(name string) topic.ID {
	id := a.topics.Register(name)
	log.Debugw("REG", "agent", a.name, "id", id.Hex(), "topic", name)
	return id
}

// Unregister drops interest in name. Unknown names are ignored.
func (a *Agent) Unregister(name string) {
	if a.topics.Unregister(name) {
		log.Debugw("UNREG", "agent", a.name, "topic", name)
	}
}

func (a *Agent) Topics() []string {
	return a.topics.Topics()
}

func (a *Agent) Resolve(id topic.ID) (string, bool) {
	return a.topics.Resolve(id)
}

// Send transmits data to every agent on the group under topicName. The
// sender does not need to be registered for the topic. Exactly one
// datagram is attempted; transport failures are returned unretried.
func (a *Agent) Send(ctx context.Context, topicName string, data []byte) error {
	if a.State() == StateStopped {
		return ErrStopped
	}
	frame := wire.EncodeTopic(topicName, data)
	if err := a.tr.Send(ctx, a.group, frame); err != nil {
		a.stats.sendErrors.Add(1)
		return fmt.Errorf("send %q: %w", topicName, err)
	}
	a.stats.sent.Add(1)
	log.Debugw("TXM", "agent", a.name, "topic", topicName, "len", len(data))
	return nil
}

// Run joins the group and delivers inbound messages until Stop is called,
// ctx is cancelled or the transport fails. It returns nil on a requested
// stop and the transport error otherwise. The agent is Stopped and the
// transport closed when Run returns.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	switch a.state {
	case StateRunning:
		a.mu.Unlock()
		return ErrAlreadyRunning
	case StateStopped:
		a.mu.Unlock()
		return ErrStopped
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.state = StateRunning
	a.cancel = cancel
	a.mu.Unlock()

	err := a.loop(runCtx)
	cancel()
	a.finish(err)
	return err
}

func (a *Agent) loop(ctx context.Context) error {
	if err := a.tr.Join(ctx, a.group); err != nil {
		return fmt.Errorf("join %s: %w", a.group, err)
	}
	log.Infow("listening", "agent", a.name, "group", a.group.String())
	for {
		d, err := a.tr.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive on %s: %w", a.group, err)
		}
		a.dispatch(d)
	}
}

func (a *Agent) dispatch(d network.Datagram) {
	a.stats.received.Add(1)
	f, err := wire.Decode(d.Data)
	if err != nil {
		a.stats.runts.Add(1)
		log.Debugw("dropped runt datagram", "agent", a.name, "len", len(d.Data), "src", d.Source)
		return
	}
	name, known := a.topics.Resolve(f.ID)
	if !known {
		a.stats.unresolved.Add(1)
		if a.unresolved == DropUnresolved {
			log.Debugw("dropped unresolved topic", "agent", a.name, "id", f.ID.Hex())
			return
		}
	}
	a.stats.delivered.Add(1)
	a.handler.HandleMessage(Message{
		Topic:   name,
		ID:      f.ID,
		Known:   known,
		Payload: f.Payload,
		Source:  d.Source,
	})
}

func (a *Agent) finish(err error) {
	if closeErr := a.tr.Close(); closeErr != nil {
		log.Warnf("close transport for %s: %v", a.name, closeErr)
	}
	a.mu.Lock()
	a.state = StateStopped
	a.err = err
	close(a.done)
	a.mu.Unlock()
	if err != nil {
		log.Errorw("receive loop terminated", "agent", a.name, "err", err)
		return
	}
	log.Infow("stopped", "agent", a.name)
}

// Stop ends the receive loop and waits for it to release the group. It
// must not be called from the Handler. Stopping an agent that never ran
// closes its transport. Stop is idempotent.
func (a *Agent) Stop() error {
	a.mu.Lock()
	switch a.state {
	case StateCreated:
		a.state = StateStopped
		close(a.done)
		a.mu.Unlock()
		return a.tr.Close()
	case StateStopped:
		a.mu.Unlock()
		return nil
	}
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Done is closed once the agent reaches Stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// Err returns the error that ended the receive loop, if any.
func (a *Agent) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *Agent) Stats() Stats {
	return a.stats.snapshot()
}

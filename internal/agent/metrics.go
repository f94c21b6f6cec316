package agent

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats is a snapshot of an agent's traffic counters.
type Stats struct {
	Sent       uint64 `json:"sent"`
	SendErrors uint64 `json:"send_errors"`
	Received   uint64 `json:"received"`
	Runts      uint64 `json:"runts"`
	Unresolved uint64 `json:"unresolved"`
	Delivered  uint64 `json:"delivered"`
}

type counters struct {
	sent       atomic.Uint64
	sendErrors atomic.Uint64
	received   atomic.Uint64
	runts      atomic.Uint64
	unresolved atomic.Uint64
	delivered  atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Sent:       c.sent.Load(),
		SendErrors: c.sendErrors.Load(),
		Received:   c.received.Load(),
		Runts:      c.runts.Load(),
		Unresolved: c.unresolved.Load(),
		Delivered:  c.delivered.Load(),
	}
}

// collectors exposes the counters as mcast_agent_*_total series labelled
// with the agent name.
func (c *counters) collectors(agentName string) []prometheus.Collector {
	labels := prometheus.Labels{"agent": agentName}
	counter := func(name, help string, v *atomic.Uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "mcast",
			Subsystem:   "agent",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(v.Load()) })
	}
	return []prometheus.Collector{
		counter("sent_total", "Datagrams transmitted to the group.", &c.sent),
		counter("send_errors_total", "Transmit attempts that failed.", &c.sendErrors),
		counter("received_total", "Datagrams read from the group.", &c.received),
		counter("runts_total", "Datagrams discarded for being too short.", &c.runts),
		counter("unresolved_total", "Datagrams whose topic is not registered locally.", &c.unresolved),
		counter("delivered_total", "Messages handed to the handler.", &c.delivered),
	}
}

func (c *counters) register(reg prometheus.Registerer, agentName string) error {
	for _, col := range c.collectors(agentName) {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

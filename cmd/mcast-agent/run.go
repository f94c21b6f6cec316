package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"Multicast-Agent/internal/agent"
	"Multicast-Agent/internal/agentapi"
	"Multicast-Agent/internal/config"
)

var runCmd = &cobra.Command{
	Use:   "run [id]",
	Short: "Run an agent until interrupted",
	Long: `Join the configured group, register the configured topics and print every
received message. With --demo-count the agent also sends "<id>.1" ... "<id>.N"
to --demo-topic, one per --demo-interval.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAgent,
}

var runFlags struct {
	group        string
	transport    string
	topics       []string
	unresolved   string
	apiListen    string
	demoTopic    string
	demoCount    int
	demoInterval time.Duration
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.group, "group", "", "multicast group multiaddr, e.g. /ip4/224.0.0.3/udp/8888")
	f.StringVar(&runFlags.transport, "transport", "", "transport kind (udp, libp2p)")
	f.StringSliceVarP(&runFlags.topics, "topic", "t", nil, "topic to register (repeatable, replaces config topics)")
	f.StringVar(&runFlags.unresolved, "unresolved", "", "unregistered topic policy (deliver, drop)")
	f.StringVar(&runFlags.apiListen, "api-listen", "", "HTTP API listen address (\"off\" disables)")
	f.StringVar(&runFlags.demoTopic, "demo-topic", "/topic/a", "topic for demo messages")
	f.IntVar(&runFlags.demoCount, "demo-count", 0, "number of demo messages to send")
	f.DurationVar(&runFlags.demoInterval, "demo-interval", time.Second, "delay between demo messages")
}

func applyRunFlags(cfg *config.Config, args []string) error {
	if len(args) > 0 {
		cfg.Agent.Name = args[0]
	}
	if runFlags.group != "" {
		cfg.Agent.Group = runFlags.group
	}
	if runFlags.transport != "" {
		cfg.Transport.Kind = runFlags.transport
	}
	if len(runFlags.topics) > 0 {
		cfg.Agent.Topics = runFlags.topics
	}
	if runFlags.unresolved != "" {
		cfg.Agent.Unresolved = runFlags.unresolved
	}
	switch runFlags.apiListen {
	case "":
	case "off":
		cfg.API.Listen = ""
	default:
		cfg.API.Listen = runFlags.apiListen
	}
	return cfg.Validate()
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyRunFlags(cfg, args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tr, err := newTransport(ctx, cfg)
	if err != nil {
		return err
	}
	group, _ := cfg.Group()
	policy, _ := cfg.Policy()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	inbox := agentapi.NewInbox(256, agent.LogHandler())
	a, err := agent.New(tr, agent.Options{
		Name:       cfg.Agent.Name,
		Group:      group,
		Handler:    inbox,
		Unresolved: policy,
		Registerer: reg,
	})
	if err != nil {
		_ = tr.Close()
		return fmt.Errorf("failed to create agent: %w", err)
	}
	for _, name := range cfg.Agent.Topics {
		a.Register(name)
	}
	log.Infof("Agent %s on %s (%s), policy for unknown topics: %s", a.Name(), group, cfg.Transport.Kind, policy)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Run(gctx)
	})

	if cfg.API.Listen != "" {
		mux := http.NewServeMux()
		agentapi.NewServer(a, inbox, reg).Register(mux)
		srv := &http.Server{Addr: cfg.API.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Infof("HTTP API listening on %s", cfg.API.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http api: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if runFlags.demoCount > 0 {
		g.Go(func() error {
			return runDemo(gctx, a, runFlags.demoTopic, runFlags.demoCount, runFlags.demoInterval)
		})
	}

	err = g.Wait()
	if stopErr := a.Stop(); stopErr != nil {
		log.Warnf("stop agent: %v", stopErr)
	}
	return err
}

// runDemo sends "<name>.<n>" for n in 1..count. A failed send is logged and
// the demo carries on with the next message.
func runDemo(ctx context.Context, a *agent.Agent, topicName string, count int, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 1; i <= count; i++ {
		payload := fmt.Sprintf("%s.%d", a.Name(), i)
		if err := a.Send(ctx, topicName, []byte(payload)); err != nil {
			if errors.Is(err, agent.ErrStopped) {
				return nil
			}
			log.Warnf("demo send %s: %v", payload, err)
		} else {
			log.Infow("TXM", "topic", topicName, "data", payload)
		}
		if i == count {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

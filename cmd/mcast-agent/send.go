package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"Multicast-Agent/internal/agent"
)

var sendCmd = &cobra.Command{
	Use:   "send <topic> <data>",
	Short: "Send one message to a topic and exit",
	Args:  cobra.ExactArgs(2),
	RunE:  runSend,
}

var sendFlags struct {
	group  string
	base64 bool
	wait   time.Duration
}

func init() {
	sendCmd.Flags().StringVar(&sendFlags.group, "group", "", "multicast group multiaddr")
	sendCmd.Flags().BoolVar(&sendFlags.base64, "base64", false, "decode <data> as base64")
	sendCmd.Flags().DurationVar(&sendFlags.wait, "wait", 0, "delay before sending, e.g. for libp2p peer discovery")
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if sendFlags.group != "" {
		cfg.Agent.Group = sendFlags.group
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	topicName, data := args[0], []byte(args[1])
	if sendFlags.base64 {
		data, err = base64.StdEncoding.DecodeString(args[1])
		if err != nil {
			return fmt.Errorf("decode base64 payload: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	tr, err := newTransport(ctx, cfg)
	if err != nil {
		return err
	}
	group, _ := cfg.Group()
	a, err := agent.New(tr, agent.Options{Name: cfg.Agent.Name, Group: group})
	if err != nil {
		_ = tr.Close()
		return err
	}
	defer a.Stop()

	if sendFlags.wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sendFlags.wait):
		}
	}
	if err := a.Send(ctx, topicName, data); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent %d bytes to %s (%s)\n", len(data), topicName, group)
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/wsecho/internal/probe"
	"github.com/rickgao/wsecho/internal/version"
)

func newCheckCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config and print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "config OK")
			fmt.Fprintf(out, "instance:      %s\n", cfg.Instance.ID)
			fmt.Fprintf(out, "listen:        %s%s\n", cfg.Server.ListenAddr, cfg.Server.Path)
			fmt.Fprintf(out, "report every:  %d probes\n", cfg.Stats.ReportEvery)
			fmt.Fprintf(out, "idle timeout:  %s\n", cfg.Server.IdleTimeout)
			fmt.Fprintf(out, "metrics:       %t\n", cfg.Metrics.IsEnabled())
			fmt.Fprintf(out, "database:      %t\n", cfg.Database.Enabled)
			return nil
		},
	}
}

func newProbeCmd(configPath *string) *cobra.Command {
	var (
		url        string
		count      int
		interval   time.Duration
		size       int
		failOnLoss bool
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Send sequenced probes to an echo server and report loss and RTT",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			pc := cfg.Probe
			flags := cmd.Flags()
			if flags.Changed("url") {
				pc.URL = url
			}
			if flags.Changed("count") {
				pc.Count = count
			}
			if flags.Changed("interval") {
				pc.Interval = interval
			}
			if flags.Changed("size") {
				pc.PayloadSize = size
			}
			if err := pc.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := newLogger(cfg.Logging, os.Stderr)
			res, runErr := probe.New(proberConfig(pc), logger).Run(ctx)
			if runErr != nil && res.Sent == 0 {
				return runErr
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}

			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				return runErr
			}
			if failOnLoss && (res.LossPct > 0 || res.EchoGaps > 0) {
				return fmt.Errorf("loss detected: %.2f%% lost, %d echo gaps", res.LossPct, res.EchoGaps)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "echo endpoint (ws:// or wss://)")
	cmd.Flags().IntVar(&count, "count", 0, "number of probes to send")
	cmd.Flags().DurationVar(&interval, "interval", 0, "delay between probes")
	cmd.Flags().IntVar(&size, "size", 0, "pad each probe to this many bytes")
	cmd.Flags().BoolVar(&failOnLoss, "fail-on-loss", false, "exit non-zero when any probe is lost")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

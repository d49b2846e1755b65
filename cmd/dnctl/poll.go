package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/arloliu/go-directnet/directnet"
	"github.com/arloliu/go-directnet/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

type pollFlags struct {
	Interval    time.Duration
	MetricsAddr string
	Count       int
}

var pollOpts pollFlags

var pollCmd = &cobra.Command{
	Use:   "poll <plc> <area> <address> <length>",
	Short: "Read PLC memory periodically",
	Long: `Read the same range at a fixed interval and print every change.

With --metrics-addr the per-target request counters are served in the
Prometheus text format on /metrics.`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		area, err := parseArea(args[1])
		if err != nil {
			return err
		}
		addr, err := parseAddress(args[2])
		if err != nil {
			return err
		}
		length, err := parseLength(args[3])
		if err != nil {
			return err
		}
		if pollOpts.Interval <= 0 {
			return fmt.Errorf("invalid interval %v", pollOpts.Interval)
		}

		ctx := cmd.Context()
		client, err := openClient(ctx, cmd)
		if err != nil {
			return err
		}
		defer closeClient(client)

		if pollOpts.MetricsAddr != "" {
			srv := startMetrics(client.Registry(), pollOpts.MetricsAddr)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		return poll(ctx, cmd, client, args[0], area, addr, length)
	},
}

func init() {
	pollCmd.Flags().DurationVarP(&pollOpts.Interval, "interval", "i", time.Second, "poll interval")
	pollCmd.Flags().StringVar(&pollOpts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9120")
	pollCmd.Flags().IntVarP(&pollOpts.Count, "count", "n", 0, "stop after this many reads (0 polls until interrupted)")
}

// poll reuses one bound message for every read, so a read that fails keeps the
// last good data in the buffer.
func poll(ctx context.Context, cmd *cobra.Command, client *directnet.Client, target string, area directnet.Command, addr uint16, length int) error {
	msg := &directnet.Message{
		Target:  target,
		Command: area,
		Address: addr,
		Data:    make([]byte, length),
	}
	if err := client.Bind(msg); err != nil {
		return err
	}

	ticker := time.NewTicker(pollOpts.Interval)
	defer ticker.Stop()

	var last []byte
	for n := 1; ; n++ {
		status, err := client.Do(ctx, msg)
		switch {
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			return err
		case status != directnet.Success:
			logger.Warn("dnctl: poll failed", "target", target, "status", status)
		case last == nil || string(last) != string(msg.Data):
			last = append(last[:0], msg.Data...)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s@0x%04X\n%s", time.Now().Format(time.RFC3339), target, area, addr, hex.Dump(last))
		}

		if pollOpts.Count > 0 && n >= pollOpts.Count {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func startMetrics(reg *directnet.Registry, addr string) *http.Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		directnet.NewCollector(reg),
		collectors.NewGoCollector(),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dnctl: serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("dnctl: metrics server failed", "error", err)
		}
	}()

	return srv
}

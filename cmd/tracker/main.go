// Copyright (C) 2025, The Pixytracker Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/psmass/pixytracker/config"
	"github.com/psmass/pixytracker/internal/authority"
	"github.com/psmass/pixytracker/internal/coordinator"
	"github.com/psmass/pixytracker/internal/corelog"
	"github.com/psmass/pixytracker/internal/gimbal"
	"github.com/psmass/pixytracker/internal/heartbeat"
	"github.com/psmass/pixytracker/internal/membership"
	"github.com/psmass/pixytracker/internal/peerid"
	"github.com/psmass/pixytracker/internal/status"
	"github.com/psmass/pixytracker/internal/transport"
	"github.com/psmass/pixytracker/internal/wire"
	"github.com/psmass/pixytracker/metrics"
)

var rootCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Runs one peer of the redundancy coordination core",
	Long: `tracker runs one peer in a triple-redundant pan/tilt tracking
ensemble: it publishes and consumes heartbeats, casts and tallies
ballots, drives the Primary/Secondary/Tertiary role state machine, and
gates its own servo output on the outcome.`,
	RunE: runTracker,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("node-id", "", "transport node id for this peer (required)")
	flags.String("signal", "target", "name of the tracked signal this peer reports")
	flags.Int("peer-count", membership.Capacity, "expected ensemble size (1-3)")
	flags.Int("base-port", 5000, "transport base port")
	flags.String("servo-endpoint", "", "servo control sink address, checked by config validation only")
	flags.Duration("heartbeat-period", heartbeat.DefaultPeriod, "heartbeat publish interval")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("metrics-addr", ":9090", "address the Prometheus /metrics endpoint listens on")
	_ = rootCmd.MarkFlagRequired("node-id")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runTracker(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	nodeID, _ := flags.GetString("node-id")
	trackedSignal, _ := flags.GetString("signal")
	peerCount, _ := flags.GetInt("peer-count")
	basePort, _ := flags.GetInt("base-port")
	servoEndpoint, _ := flags.GetString("servo-endpoint")
	heartbeatPeriod, _ := flags.GetDuration("heartbeat-period")
	logLevel, _ := flags.GetString("log-level")
	metricsAddr, _ := flags.GetString("metrics-addr")

	cfg := config.Default()
	cfg.NodeID = nodeID
	cfg.TrackedSignal = trackedSignal
	cfg.ExpectedPeerCount = peerCount
	cfg.TransportBasePort = basePort
	cfg.ServoEndpoint = servoEndpoint
	cfg.HeartbeatPeriod = heartbeatPeriod

	result := config.Validate(cfg)
	log := corelog.New(logLevel, "tracker")
	for _, w := range result.Warnings {
		log.Warn("config warning", "detail", w)
	}
	if !result.OK(config.SoftMode) {
		for _, e := range result.Errors {
			log.Error("config error", "detail", e)
		}
		return fmt.Errorf("invalid configuration: %d error(s)", len(result.Errors))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return run(ctx, cfg, log, metricsAddr)
}

// run wires the five logical threads named in spec §5 (heartbeat
// publisher, heartbeat subscriber, vote reader/coordinator, authority-
// gated servo publisher, observation-driven gimbal controller) over a
// shared Membership Table and returns the aggregated error from
// whichever goroutines report one.
func run(ctx context.Context, cfg config.Config, log corelog.Logger, metricsAddr string) error {
	ownID := peerid.New()
	table := membership.New(ownID)
	gate := authority.New()
	display := status.Console{W: os.Stdout}
	controller := gimbal.NewController()

	tr := transport.New(ctx, cfg.NodeID, cfg.TransportBasePort)

	coord := coordinator.New(table, tr, gate, display, log.With("peer", cfg.NodeID), cfg.ExpectedPeerCount)

	errs := &wire.Errs{}

	promReg := prometheus.NewRegistry()
	promMetrics := metrics.NewMetrics(promReg)
	heartbeatLatency := metrics.NewAveragerWithErrs("tracker_heartbeat_publish_seconds", "heartbeat publish call duration", promMetrics.Registry, errs)

	reg := metrics.NewRegistry()
	coord.SetMetrics(&coordinator.Metrics{
		StateTransitions: reg.NewCounter("tracker_state_transitions_total"),
		BallotsRejected:  reg.NewCounter("tracker_ballots_rejected_total"),
		OwnStrength:      reg.NewGauge("tracker_own_strength"),
	})

	hbSub := heartbeat.NewSubscriber(table, coord, log.With("component", "heartbeat"))
	tr.RegisterHeartbeatHandler(hbSub.HandleSample)
	tr.RegisterBallotHandler(coord.HandleBallot)
	tr.ReplayDurable(coord.HandleBallot)

	tr.RegisterObservationHandler(func(payload []byte) {
		panError, tiltError, ok := decodeOffset(payload)
		if !ok {
			log.Warn("malformed observation payload dropped", "len", len(payload))
			return
		}
		sample := controller.UpdateFromOffset(panError, tiltError)
		if err := tr.PublishServoControl(gate, encodeSample(sample)); err != nil {
			log.Warn("servo control publish failed", "err", err)
		}
	})

	hbPub := heartbeat.NewPublisher(timedSender{Sender: tr, latency: heartbeatLatency}, ownID, cfg.HeartbeatPeriod, log.With("component", "heartbeat"))

	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		_ = metricsServer.Close()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped", "err", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs.Add(hbPub.Run(ctx))
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs.Add(coord.Run(ctx))
	}()

	wg.Wait()
	return errs.Err()
}

// timedSender wraps a heartbeat.Sender, observing each publish call's
// wall-clock duration into latency.
type timedSender struct {
	heartbeat.Sender
	latency metrics.Averager
}

func (s timedSender) PublishHeartbeat(id peerid.ID) error {
	start := time.Now()
	err := s.Sender.PublishHeartbeat(id)
	s.latency.Observe(time.Since(start).Seconds())
	return err
}

// decodeOffset unpacks an 8-byte {pan_error:4, tilt_error:4} observation
// payload into signed pixel offsets.
func decodeOffset(payload []byte) (panError, tiltError int32, ok bool) {
	u := wire.NewUnpacker(payload)
	panError = int32(u.UnpackInt())
	tiltError = int32(u.UnpackInt())
	if u.Err != nil {
		return 0, 0, false
	}
	return panError, tiltError, true
}

// encodeSample packs a gimbal.Sample into its {pan:2, tilt:2,
// frequency:2} wire form (spec §6's servo_control payload).
func encodeSample(s gimbal.Sample) []byte {
	p := wire.NewPacker(6)
	p.PackShort(s.Pan)
	p.PackShort(s.Tilt)
	p.PackShort(s.Frequency)
	return p.Bytes
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"solvbot-go/internal/config"
	"solvbot-go/internal/market"
	"solvbot-go/internal/signal"
	"solvbot-go/internal/util"
)

func checkCmd() *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Sample the feeds once and report what the engine sees",
		Long:  "Connects to the configured feeds for a bounded window, folds the events into fresh rolling state, and prints the metrics and the action the engine would take.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(window)
		},
	}
	cmd.Flags().DurationVar(&window, "window", 30*time.Second, "how long to sample the feeds")
	return cmd
}

func runCheck(window time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := util.NewLogger("warn")

	sigEngine := signal.NewEngine(signal.Params{
		Symbol:        cfg.Symbols.Spot,
		MemeDropPct:   cfg.Thresholds.MemeDropPct,
		RSIMax:        cfg.Thresholds.RSIMax,
		RSIPeriod:     cfg.Thresholds.RSIPeriod,
		SupportLow:    cfg.Thresholds.SupportLow,
		SupportHigh:   cfg.Thresholds.SupportHigh,
		StopLoss:      cfg.Thresholds.StopLoss,
		TakeProfit1:   cfg.Thresholds.TakeProfit1,
		TakeProfit2:   cfg.Thresholds.TakeProfit2,
		GapTolerance:  cfg.Feeds.GapTolerance,
		VolumeSources: []string{"pumpfun", "defillama"},
	}, log)

	ctx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()

	mux := buildMux(cfg, log)
	events := make(chan market.Event, cfg.Feeds.QueueSize)
	go func() {
		_ = mux.Run(ctx, events)
		close(events)
	}()

	var counts = map[market.Kind]int{}
	for ev := range events {
		counts[ev.Kind]++
		_ = sigEngine.OnEvent(ev)
	}

	price, rsi, drop, rsiReady, dropReady := sigEngine.Metrics()
	fmt.Printf("symbol:        %s\n", cfg.Symbols.Spot)
	fmt.Printf("events:        %v\n", counts)
	fmt.Printf("last price:    %.4f\n", price)
	if rsiReady {
		fmt.Printf("rsi(%d):       %.2f (max %.0f)\n", cfg.Thresholds.RSIPeriod, rsi, cfg.Thresholds.RSIMax)
	} else {
		fmt.Printf("rsi(%d):       warming up\n", cfg.Thresholds.RSIPeriod)
	}
	if dropReady {
		fmt.Printf("volume drop:   %.1f%% (threshold %.0f%%)\n", drop*100, cfg.Thresholds.MemeDropPct*100)
	} else {
		fmt.Printf("volume drop:   baseline not yet covered\n")
	}
	fmt.Printf("support band:  [%.2f, %.2f]\n", cfg.Thresholds.SupportLow, cfg.Thresholds.SupportHigh)
	fmt.Printf("would act:     %s\n", sigEngine.Evaluate())
	return nil
}

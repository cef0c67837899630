package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"solvbot-go/internal/config"
	"solvbot-go/internal/feed"
)

func backfillCmd() *cobra.Command {
	var (
		limit int
		out   string
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Download historical candles for offline analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(limit, out)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 500, "number of closed candles to fetch")
	cmd.Flags().StringVar(&out, "out", "data/candles.jsonl", "output JSONL path")
	return cmd
}

func runBackfill(limit int, out string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !cfg.Feeds.CEX.Enabled || cfg.Feeds.CEX.URL == "" {
		return fmt.Errorf("backfill needs the cex feed configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	candles, err := feed.FetchCandleHistory(ctx, cfg.Feeds.CEX.URL, cfg.Symbols.Spot, cfg.Feeds.Interval, limit)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return fmt.Errorf("no candles returned")
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	file, err := os.Create(out)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	for _, candle := range candles {
		if err := enc.Encode(candle); err != nil {
			return err
		}
	}
	fmt.Printf("wrote %d candles (%s .. %s) to %s\n",
		len(candles),
		candles[0].Start.Format(time.RFC3339),
		candles[len(candles)-1].Start.Format(time.RFC3339),
		out)
	return nil
}

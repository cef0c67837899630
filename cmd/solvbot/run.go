package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	solanasdk "github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"solvbot-go/internal/alert"
	"solvbot-go/internal/config"
	"solvbot-go/internal/execution"
	"solvbot-go/internal/feed"
	"solvbot-go/internal/ledger"
	"solvbot-go/internal/market"
	"solvbot-go/internal/metrics"
	"solvbot-go/internal/risk"
	"solvbot-go/internal/signal"
	"solvbot-go/internal/store"
	"solvbot-go/internal/util"
	"solvbot-go/internal/venue"
)

const (
	solMint  = "So11111111111111111111111111111111111111112"
	usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the trading engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine()
		},
	}
}

func runEngine() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := util.NewLogger(cfg.App.LogLevel)
	creds := config.LoadCredentials()

	cfgStore := config.NewStore(configPath, cfg)
	stop := make(chan struct{})
	defer close(stop)
	go cfgStore.WatchSIGHUP(log, stop)

	if cfg.App.MetricsAddr != "" {
		srv := metrics.Serve(cfg.App.MetricsAddr)
		defer srv.Close()
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}

	journal, err := openJournal(cfg, log)
	if err != nil {
		return err
	}
	defer journal.Close()

	led := ledger.New(cfg.Ledger.StartingEquity)
	rehydrate(cfg, led, log)

	v, paper, err := buildVenue(cfg, creds, log)
	if err != nil {
		return err
	}

	notifier := buildNotifier(cfg, creds, log)

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
	}, util.Component(log, "signal"))

	riskMgr := risk.NewManager(riskParams(cfg), util.Component(log, "risk"))

	exec := execution.NewEngine(execution.Config{
		TrancheCount:     cfg.Execution.TrancheCount,
		TrancheHorizon:   cfg.Execution.TrancheHorizon,
		RepriceTolerance: cfg.Execution.RepriceTolerance,
		ShutdownGrace:    cfg.Execution.ShutdownGrace,
		TP1Fraction:      cfg.Execution.TP1Fraction,
		StopLoss:         cfg.Thresholds.StopLoss,
		TakeProfit1:      cfg.Thresholds.TakeProfit1,
		TakeProfit2:      cfg.Thresholds.TakeProfit2,
	}, v, led, journal, util.Component(log, "execution"))

	exec.OnEntryOpened(func() {
		sigEngine.PositionOpened()
		notifier.Notify(fmt.Sprintf("%s entry filled", cfg.Symbols.Spot))
	})
	led.OnPositionClosed(func(win bool) {
		sigEngine.PositionClosed()
		outcome := "loss"
		if win {
			outcome = "win"
		}
		notifier.Notify(fmt.Sprintf("%s position closed (%s), streak %d", cfg.Symbols.Spot, outcome, led.LossStreak()))
	})

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mux := buildMux(cfg, log)
	events := make(chan market.Event, cfg.Feeds.QueueSize)
	go func() {
		if err := mux.Run(ctx, events); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("feed mux stopped")
		}
		close(events)
	}()

	execDone := make(chan error, 1)
	go func() { execDone <- exec.Run(ctx) }()

	snapshotTicker := time.NewTicker(time.Minute)
	defer snapshotTicker.Stop()

	log.Info().Str("mode", cfg.Venue.Mode).Str("symbol", cfg.Symbols.Spot).Msg("engine started")
	for {
		select {
		case <-ctx.Done():
			err := <-execDone
			_ = journal.RecordSnapshot(led.Snapshot())
			log.Info().Msg("engine stopped")
			return err

		case <-snapshotTicker.C:
			if err := journal.RecordSnapshot(led.Snapshot()); err != nil {
				log.Warn().Err(err).Msg("snapshot journaling failed")
			}
			riskMgr.Update(riskParams(cfgStore.Current()))

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Kind == market.KindBookDelta && ev.BookDelta != nil {
				if paper != nil && ev.BookDelta.Bid > 0 {
					paper.SetBook(ev.BookDelta.Bid, ev.BookDelta.Ask)
				}
				exec.OnBook(ctx, *ev.BookDelta)
			}
			sig := sigEngine.OnEvent(ev)
			if sig == nil {
				continue
			}
			dec := riskMgr.Evaluate(*sig, led.Snapshot())
			if !dec.Approved {
				if sig.Action == signal.Enter {
					sigEngine.EnterDenied()
				}
				continue
			}
			if err := exec.OnDecision(ctx, dec); err != nil {
				log.Error().Err(err).Str("action", string(sig.Action)).Msg("decision execution failed")
			}
		}
	}
}

func riskParams(cfg *config.Config) risk.Params {
	return risk.Params{
		MaxTradeRisk:   cfg.Thresholds.MaxTradeRisk,
		StopLoss:       cfg.Thresholds.StopLoss,
		PauseThreshold: cfg.Risk.PauseThreshold,
		NewsLock:       cfg.Risk.NewsLock,
	}
}

func buildMux(cfg *config.Config, log zerolog.Logger) *feed.Mux {
	mux := feed.NewMux(util.Component(log, "feed"), cfg.Feeds.QueueSize)
	if cfg.Feeds.CEX.Enabled {
		mux.Subscribe(feed.NewCEXCandles(cfg.Feeds.CEX.URL, cfg.Symbols.Spot, cfg.Feeds.Interval))
		mux.Subscribe(feed.NewCEXDepth(cfg.Feeds.CEX.URL, cfg.Symbols.Spot, cfg.Feeds.CEX.PollInterval))
	}
	if cfg.Feeds.PumpFun.Enabled {
		mux.Subscribe(feed.NewPumpFun(cfg.Feeds.PumpFun.URL, cfg.Symbols.MemeAggregate, cfg.Feeds.PumpFun.PollInterval))
	}
	if cfg.Feeds.DeFiLlama.Enabled {
		mux.Subscribe(feed.NewDeFiLlama(cfg.Feeds.DeFiLlama.URL, "pump.fun", cfg.Symbols.MemeAggregate, cfg.Feeds.DeFiLlama.PollInterval))
	}
	if cfg.Feeds.SolanaWS.Enabled {
		mux.Subscribe(feed.NewSolanaWS(cfg.Feeds.SolanaWS.URL, cfg.Symbols.Spot))
	}
	return mux
}

func openJournal(cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	var inner store.Store
	if cfg.Store.PostgresDSN != "" {
		pg, err := store.NewPostgres(cfg.Store.PostgresDSN)
		if err != nil {
			return nil, err
		}
		inner = pg
	} else {
		path := cfg.Store.JSONLPath
		if path == "" {
			path = "data/journal.jsonl"
		}
		j, err := store.NewJSONL(path)
		if err != nil {
			return nil, err
		}
		inner = j
	}
	return store.NewBuffered(inner, util.Component(log, "store")), nil
}

func rehydrate(cfg *config.Config, led *ledger.Ledger, log zerolog.Logger) {
	if cfg.Store.PostgresDSN == "" {
		return
	}
	pg, err := store.NewPostgres(cfg.Store.PostgresDSN)
	if err != nil {
		log.Warn().Err(err).Msg("rehydration store unavailable")
		return
	}
	defer pg.Close()
	snap, ok, err := pg.LatestSnapshot()
	if err != nil {
		log.Warn().Err(err).Msg("snapshot load failed")
		return
	}
	if ok {
		led.Rehydrate(snap)
		log.Info().Float64("equity", snap.Equity).Int("loss_streak", snap.LossStreak).Msg("ledger rehydrated")
	}
}

func buildVenue(cfg *config.Config, creds config.Credentials, log zerolog.Logger) (venue.Venue, *venue.Paper, error) {
	switch cfg.Venue.Mode {
	case "", "paper":
		p := venue.NewPaper(util.Component(log, "venue"))
		return p, p, nil
	case "jupiter":
		if creds.SolanaPrivateKeyBase58 == "" {
			return nil, nil, fmt.Errorf("jupiter venue needs SOLANA_PRIVATE_KEY_BASE58")
		}
		owner, err := solanasdk.PrivateKeyFromBase58(creds.SolanaPrivateKeyBase58)
		if err != nil {
			return nil, nil, fmt.Errorf("wallet: %w", err)
		}
		pairs := map[string]venue.Pair{
			cfg.Symbols.Spot: {BaseMint: solMint, QuoteMint: usdcMint, BaseDecimals: 9, QuoteDecimals: 6},
		}
		j := venue.NewJupiter(cfg.Venue.RpcURL, cfg.Venue.JupiterBase, owner, cfg.Venue.Commitment,
			cfg.Venue.SlippageBps, pairs, util.Component(log, "venue"))
		return j, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown venue mode %q", cfg.Venue.Mode)
	}
}

func buildNotifier(cfg *config.Config, creds config.Credentials, log zerolog.Logger) alert.Notifier {
	if creds.TelegramToken == "" || cfg.Alert.TelegramChatID == 0 {
		return alert.Nop{}
	}
	tg, err := alert.NewTelegram(creds.TelegramToken, cfg.Alert.TelegramChatID, util.Component(log, "alert"))
	if err != nil {
		log.Warn().Err(err).Msg("telegram unavailable, alerts disabled")
		return alert.Nop{}
	}
	return tg
}

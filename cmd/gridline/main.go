// Command gridline runs the grid-trading engine for a single spot market.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/cadogan/gridline/config"
	"github.com/cadogan/gridline/internal/bus"
	"github.com/cadogan/gridline/internal/engine"
	"github.com/cadogan/gridline/internal/exchange"
	"github.com/cadogan/gridline/internal/journal"
	"github.com/cadogan/gridline/internal/ladder"
	"github.com/cadogan/gridline/internal/observability"
	"github.com/cadogan/gridline/internal/schema"
	"github.com/cadogan/gridline/internal/stream"
	"github.com/cadogan/gridline/lib/telemetry"
)

const telemetryShutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "gridline.yaml", "path to the configuration file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	autoStart := flag.Bool("start", false, "start the bot immediately")
	flag.Parse()

	observability.SetLogger(observability.StdLogger{Verbose: *verbose})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	provider, shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	observability.SetMetrics(telemetry.NewRecorder(provider))
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer shutdownCancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	client := exchange.NewClient(cfg.Venue, nil, nil)
	rules, err := client.SymbolRules(ctx, cfg.Grid.Symbol)
	if err != nil {
		log.Fatalf("fetch symbol rules: %v", err)
	}

	catalog, err := loadOrBuildCatalog(ctx, cfg.Grid, client, rules)
	if err != nil {
		log.Fatalf("build catalog: %v", err)
	}
	log.Printf("catalog ready: %d levels [%s .. %s]",
		catalog.Len(), catalog.Params().MinPrice, catalog.Params().MaxPrice)

	hub := bus.New(64)
	defer hub.Close()

	priceStream := stream.NewPriceStream(cfg.Venue.WSPublicURL, cfg.Grid.Symbol, hub)
	userStream := stream.NewUserDataStream(cfg.Venue.WSPrivateURL, client, hub)

	bot := engine.New(client, hub, engine.Options{
		Rules:          rules,
		Catalog:        catalog,
		TargetLevels:   cfg.Grid.TargetLevels,
		QuotePerLevel:  decimal.NewFromFloat(cfg.Grid.QuotePerLevel),
		PassInterval:   cfg.Grid.PassInterval,
		PlacementDelay: cfg.Grid.PlacementDelay,
	})

	var shellWG conc.WaitGroup
	runJournal(ctx, cfg.Journal, hub, &shellWG)
	runShell(ctx, hub, &shellWG)

	priceStream.Start(ctx)
	userStream.Start(ctx)

	if *autoStart {
		startBot(ctx, bot)
	}

	commands(ctx, cancel, bot)

	// Orderly teardown: engine first so no new orders go out, then streams.
	bot.Stop()
	priceStream.Stop()
	userStream.Stop()
	shellWG.Wait()
}

// loadOrBuildCatalog reuses the cached catalog when its generating
// parameters match, otherwise rebuilds from the live exchange filters and
// rewrites the cache. Unset price bounds derive from the current ask.
func loadOrBuildCatalog(ctx context.Context, grid config.GridSettings, client *exchange.Client, rules schema.SymbolRules) (*ladder.Catalog, error) {
	minPrice := decimal.NewFromFloat(grid.MinPrice)
	maxPrice := decimal.NewFromFloat(grid.MaxPrice)
	if minPrice.IsZero() || maxPrice.IsZero() {
		ask, err := client.AskPrice(ctx, grid.Symbol)
		if err != nil {
			return nil, fmt.Errorf("derive price bounds: %w", err)
		}
		if minPrice.IsZero() {
			minPrice = ask.Div(decimal.New(2, 0))
		}
		if maxPrice.IsZero() {
			maxPrice = ask
		}
	}
	params := ladder.Params{
		Symbol:      strings.ToUpper(grid.Symbol),
		StepPercent: decimal.NewFromFloat(grid.StepPercent),
		MinPrice:    minPrice,
		MaxPrice:    maxPrice,
		TickSize:    rules.TickSize,
	}
	store := ladder.Store{Path: grid.CatalogPath}
	if cached, ok := store.Load(params); ok {
		return cached, nil
	}
	catalog, err := ladder.Build(params)
	if err != nil {
		return nil, err
	}
	if err := store.Save(catalog); err != nil {
		log.Printf("catalog cache write failed: %v", err)
	}
	return catalog, nil
}

func runJournal(ctx context.Context, cfg config.JournalSettings, hub *bus.Bus, wg *conc.WaitGroup) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return
	}
	if dir := strings.TrimSpace(cfg.MigrationsDir); dir != "" {
		if err := journal.Migrate(dsn, dir); err != nil {
			log.Printf("journal migrations failed, journal disabled: %v", err)
			return
		}
	}
	j, pool, err := journal.Connect(ctx, dsn)
	if err != nil {
		log.Printf("journal unavailable: %v", err)
		return
	}
	id, updates := hub.Orders.Subscribe()
	wg.Go(func() {
		defer pool.Close()
		defer hub.Orders.Unsubscribe(id)
		j.Consume(ctx, updates)
	})
}

// runShell prints the core's event feed: ticker, stream statuses, wallet
// valuation, and per-order updates.
func runShell(ctx context.Context, hub *bus.Bus, wg *conc.WaitGroup) {
	tickersID, tickers := hub.Tickers.Subscribe()
	priceID, priceStates := hub.PriceState.Subscribe()
	userID, userStates := hub.UserState.Subscribe()
	walletID, wallets := hub.Wallet.Subscribe()
	ordersID, orders := hub.Orders.Subscribe()

	wg.Go(func() {
		defer hub.Tickers.Unsubscribe(tickersID)
		defer hub.PriceState.Unsubscribe(priceID)
		defer hub.UserState.Unsubscribe(userID)
		defer hub.Wallet.Unsubscribe(walletID)
		defer hub.Orders.Unsubscribe(ordersID)

		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-tickers:
				if !ok {
					return
				}
				fmt.Printf("px  %s bid=%s ask=%s\n", t.Symbol, t.Bid, t.Ask)
			case st := <-priceStates:
				fmt.Printf("ws  price state=%s reconnects=%d err=%q\n", st.State, st.Reconnects, st.LastErr)
			case st := <-userStates:
				fmt.Printf("ws  user  state=%s reconnects=%d err=%q\n", st.State, st.Reconnects, st.LastErr)
			case w := <-wallets:
				fmt.Printf("wal value=%s pnl=%s%%\n", w.QuoteValue.StringFixed(2), w.PnLPercent.StringFixed(2))
			case u := <-orders:
				fmt.Printf("ord %s %s %s px=%s qty=%s filled=%s\n",
					u.Symbol, u.Side, u.Status, u.Price, u.OrigQty, u.CumQty)
			}
		}
	})
}

func startBot(ctx context.Context, bot *engine.Engine) {
	if bot.Running() {
		fmt.Println("bot already running")
		return
	}
	if err := bot.SyncOpenOrders(ctx); err != nil {
		log.Printf("open order sync failed: %v", err)
	}
	bot.Start(ctx)
	fmt.Println("bot started")
}

// commands maps stdin lines onto the engine's control surface until EOF or
// signal: start, stop, quote <amount>, quit.
func commands(ctx context.Context, cancel context.CancelFunc, bot *engine.Engine) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			fields := strings.Fields(strings.ToLower(line))
			if len(fields) == 0 {
				continue
			}
			switch fields[0] {
			case "start":
				startBot(ctx, bot)
			case "stop":
				bot.Stop()
				fmt.Println("bot stopped")
			case "quote":
				if len(fields) < 2 {
					fmt.Println("usage: quote <amount>")
					continue
				}
				amount, err := decimal.NewFromString(fields[1])
				if err != nil {
					fmt.Printf("bad amount %q\n", fields[1])
					continue
				}
				applied := bot.SetQuotePerLevel(amount)
				fmt.Printf("quote per level: %s\n", applied)
			case "quit", "exit":
				cancel()
				return
			default:
				fmt.Println("commands: start | stop | quote <amount> | quit")
			}
		}
	}
}

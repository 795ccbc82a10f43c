package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"poly-mmbot/internal/clob"
	"poly-mmbot/internal/dataapi"
	"poly-mmbot/internal/dotenv"
	"poly-mmbot/internal/execution"
	"poly-mmbot/internal/gamma"
	"poly-mmbot/internal/jsonl"
	"poly-mmbot/internal/mm"
	"poly-mmbot/internal/polygonutil"
	"poly-mmbot/internal/rtds"
	"poly-mmbot/internal/state"
	"poly-mmbot/internal/store"
)

func main() {
	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}
	setupLogging()

	pkHex := strings.TrimSpace(firstNonEmpty(os.Getenv("POLYMARKET_PRIVATE_KEY"), os.Getenv("PRIVATE_KEY")))
	if pkHex == "" {
		log.Fatalf("[fatal] POLYMARKET_PRIVATE_KEY required")
	}
	pk, err := crypto.HexToECDSA(strings.TrimPrefix(pkHex, "0x"))
	if err != nil {
		log.Fatalf("[fatal] invalid POLYMARKET_PRIVATE_KEY: %v", err)
	}
	signer := crypto.PubkeyToAddress(pk.PublicKey)

	funder := signer
	if envAddr := strings.TrimSpace(firstNonEmpty(os.Getenv("POLYMARKET_ADDRESS"), os.Getenv("FUNDER"))); envAddr != "" {
		if !common.IsHexAddress(envAddr) {
			log.Fatalf("[fatal] invalid POLYMARKET_ADDRESS %q", envAddr)
		}
		funder = common.HexToAddress(envAddr)
	}

	chainID := int64(envInt("POLYMARKET_CHAIN_ID", 137))
	sigType := envInt("CLOB_SIGNATURE_TYPE", 0)
	clobHost := firstNonEmpty(os.Getenv("POLYMARKET_API_BASE_URL"), os.Getenv("CLOB_URL"), "https://clob.polymarket.com")

	clobClient, err := clob.NewClient(clobHost, chainID, pk, funder, sigType)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloadCh := make(chan struct{}, 1)
	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				switch sig {
				case syscall.SIGHUP:
					select {
					case reloadCh <- struct{}{}:
					default:
					}
				default:
					log.Printf("Shutting down…")
					cancel()
					return
				}
			}
		}
	}()

	setupAPICreds(ctx, clobClient)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var rngMu sync.Mutex
	saltGen := func() int64 {
		rngMu.Lock()
		defer rngMu.Unlock()
		return int64(rng.Uint64() & 0x7fffffffffffffff)
	}

	gammaURL := firstNonEmpty(os.Getenv("GAMMA_URL"), "https://gamma-api.polymarket.com")
	gammaClient, err := gamma.NewClient(gammaURL)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	resolver := gammaResolver{client: gammaClient}

	dataURL := firstNonEmpty(os.Getenv("DATA_API_URL"), "https://data-api.polymarket.com")
	dataClient, err := dataapi.NewClient(dataURL)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	var st *store.Store
	var roster mm.Roster
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		st, err = store.Open(dsn)
		if err != nil {
			log.Fatalf("[fatal] store: %v", err)
		}
		roster = storeRoster{st: st}
		log.Printf("Store: postgres roster enabled")
	} else {
		log.Printf("Store: not configured; roster from TRADER_MARKETS env")
	}
	async := store.NewAsyncWriter(st)
	defer async.Close()

	configs := loadInitialConfigs(ctx, st, resolver)
	if len(configs) == 0 && roster == nil {
		log.Fatalf("[fatal] no traders configured: set TRADER_MARKETS or DATABASE_URL")
	}

	checkBudgets(ctx, funder, configs)

	// Market data source: REST polling by default, websocket book cache with
	// REST fallback when SOURCE=rtds.
	var books *rtds.BookCache
	if strings.EqualFold(strings.TrimSpace(os.Getenv("SOURCE")), "rtds") {
		tokenIDs := make([]string, 0, len(configs))
		for _, cfg := range configs {
			tokenIDs = append(tokenIDs, cfg.TokenID)
		}
		rtdsURL := firstNonEmpty(os.Getenv("RTDS_URL"), "wss://ws-live-data.polymarket.com")
		books, err = rtds.StartBookCache(ctx, rtdsURL, tokenIDs, rtds.Options{}, func(err error) {
			log.Printf("[warn] rtds: %v", err)
		})
		if err != nil {
			log.Fatalf("[fatal] rtds: %v", err)
		}
		log.Printf("Source: rtds (%s, %d token(s))", rtdsURL, len(tokenIDs))
	} else {
		log.Printf("Source: poll")
	}

	adapter, err := execution.NewAdapter(clobClient, dataClient, execution.Config{
		Books:         books,
		SaltGenerator: saltGen,
		UseServerTime: envBool("CLOB_USE_SERVER_TIME", false),
		MaxAttempts:   envInt("EXECUTION_MAX_RETRIES", 3),
		RetryDelay:    envDurationSecs("EXECUTION_RETRY_DELAY", 500*time.Millisecond),
	})
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	eventLog := jsonl.New(firstNonEmpty(os.Getenv("MM_OUT_FILE"), os.Getenv("TRADES_OUT_FILE")))
	if eventLog != nil {
		log.Printf("Trade log: %s (JSONL)", eventLog.Path())
		defer func() {
			if err := eventLog.Close(); err != nil {
				log.Printf("[warn] trade log close: %v", err)
			}
		}()
	}

	checkpointPath := firstNonEmpty(os.Getenv("CHECKPOINT_FILE"), "data/checkpoint.json")
	overlays := loadOverlays(checkpointPath)

	manager, err := mm.NewManager(mm.ManagerConfigFromEnv(), mm.ManagerDeps{
		Execution: adapter,
		Roster:    roster,
		Resolver:  resolver,
		Recorder:  recorder{async: async},
		Logf:      log.Printf,
		Emit:      func(ev mm.Event) { mm.LogFleetEvent(eventLog, ev) },
		Overlays:  overlays,
	})
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	for _, cfg := range configs {
		if _, err := manager.AddTrader(ctx, cfg); err != nil {
			log.Printf("[warn] add trader %s: %v", cfg.MarketSlug, err)
		}
	}

	if addr := strings.TrimSpace(os.Getenv("METRICS_ADDR")); addr != "" {
		go serveMetrics(addr)
	}

	log.Printf("Marketmaker running (signer=%s funder=%s traders=%d)", signer.Hex(), funder.Hex(), manager.TraderCount())
	manager.Run(ctx, reloadCh)

	saveOverlays(checkpointPath, manager.Overlays())
}

// setupLogging mirrors every log line to a timestamped file next to the
// console output.
func setupLogging() {
	dir := strings.TrimSpace(os.Getenv("LOG_DIR"))
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("[warn] log dir: %v", err)
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("mmbot_%s.log", time.Now().Format("20060102_150405")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("[warn] log file: %v", err)
		return
	}
	log.SetOutput(io.MultiWriter(os.Stdout, f))
	log.Printf("Log file: %s", path)
}

func setupAPICreds(ctx context.Context, clobClient *clob.Client) {
	apiKey := strings.TrimSpace(firstNonEmpty(os.Getenv("POLYMARKET_API_KEY"), os.Getenv("CLOB_API_KEY")))
	apiSecret := strings.TrimSpace(firstNonEmpty(os.Getenv("POLYMARKET_API_SECRET"), os.Getenv("CLOB_SECRET")))
	apiPass := strings.TrimSpace(firstNonEmpty(os.Getenv("POLYMARKET_PASSPHRASE"), os.Getenv("POLYMARKET_API_PASSPHRASE"), os.Getenv("CLOB_PASSPHRASE")))

	if apiKey != "" && apiSecret != "" && apiPass != "" {
		clobClient.SetApiCreds(clob.ApiKeyCreds{Key: apiKey, Secret: apiSecret, Passphrase: apiPass})
		return
	}

	creds, err := clobClient.CreateOrDeriveApiKey(ctx, 0, false)
	if err != nil {
		log.Fatalf("[fatal] failed to create/derive api key: %v", err)
	}
	clobClient.SetApiCreds(creds)
	log.Printf("CLOB API creds ready (key=%s…)", safePrefix(creds.Key, 8))
}

// loadInitialConfigs reads the trader roster (store first, env fallback) and
// resolves each slug to its condition and token ids.
func loadInitialConfigs(ctx context.Context, st *store.Store, resolver gammaResolver) []mm.TraderConfig {
	var configs []mm.TraderConfig

	if st.Available() {
		rows, err := st.LoadAllTraders(ctx, true)
		if err != nil {
			log.Printf("[warn] store roster: %v", err)
		}
		for _, row := range rows {
			configs = append(configs, mm.TraderConfig{
				ID:                    row.ID,
				MarketSlug:            row.MarketSlug,
				Budget:                row.Budget,
				MinGapCents:           row.MinGap,
				PriceImprovementCents: row.PriceImprovement,
				MaxInventory:          row.MaxInventory,
			})
		}
	}
	if len(configs) == 0 {
		envConfigs, err := mm.TraderConfigsFromEnv()
		if err != nil {
			log.Fatalf("[fatal] %v", err)
		}
		configs = envConfigs
	}

	out := configs[:0]
	for _, cfg := range configs {
		if cfg.TokenID == "" {
			conditionID, tokenID, minOrderSize, err := resolver.ResolveSlug(ctx, cfg.MarketSlug)
			if err != nil {
				log.Printf("[warn] resolve %s: %v (skipping)", cfg.MarketSlug, err)
				continue
			}
			cfg.ConditionID = conditionID
			cfg.TokenID = tokenID
			if cfg.MinOrderSize <= 0 {
				cfg.MinOrderSize = minOrderSize
			}
		}
		log.Printf("[cfg] trader %s budget=$%.2f min_gap=%.2f¢ improvement=%.2f¢ token=%s",
			cfg.MarketSlug, cfg.Budget, cfg.MinGapCents, cfg.PriceImprovementCents, safePrefix(cfg.TokenID, 16))
		out = append(out, cfg)
	}
	return out
}

// checkBudgets warns when the sum of trader budgets exceeds the funder's
// on-chain USDC balance. Best-effort; needs an RPC endpoint configured.
func checkBudgets(ctx context.Context, funder common.Address, configs []mm.TraderConfig) {
	var total float64
	for _, cfg := range configs {
		total += cfg.Budget
	}
	if total <= 0 {
		return
	}

	rpcURL, err := polygonutil.RPCURLFromEnv()
	if err != nil {
		log.Printf("[cfg] budget check skipped: %v", err)
		return
	}

	balCtx, balCancel := context.WithTimeout(ctx, 12*time.Second)
	defer balCancel()
	usdcMicros, err := polygonutil.USDCTokenBalanceMicros(balCtx, rpcURL, funder)
	if err != nil {
		log.Printf("[warn] budget check: %v", err)
		return
	}

	balance := float64(usdcMicros) / 1e6
	if total > balance {
		log.Printf("[warn] trader budgets $%.2f exceed wallet USDC balance $%.2f", total, balance)
	} else {
		log.Printf("[cfg] budgets $%.2f within wallet USDC balance $%.2f", total, balance)
	}
}

func loadOverlays(path string) map[string]mm.Overlay {
	ckpt, found, err := state.LoadCheckpoint(path)
	if err != nil {
		log.Printf("[warn] checkpoint: %v", err)
		return nil
	}
	if !found {
		return nil
	}
	overlays := make(map[string]mm.Overlay, len(ckpt.Traders))
	for slug, ov := range ckpt.Traders {
		overlays[slug] = mm.Overlay{CostBasis: ov.CostBasis, RealizedPnL: ov.RealizedPnL, Trades: ov.Trades}
	}
	log.Printf("Checkpoint: restored %d trader overlay(s) from %s", len(overlays), path)
	return overlays
}

func saveOverlays(path string, overlays map[string]mm.Overlay) {
	ckpt := state.Checkpoint{
		SavedAtMs: time.Now().UnixMilli(),
		Traders:   make(map[string]state.TraderOverlay, len(overlays)),
	}
	for slug, ov := range overlays {
		ckpt.Traders[slug] = state.TraderOverlay{
			Slug:        slug,
			CostBasis:   ov.CostBasis,
			RealizedPnL: ov.RealizedPnL,
			Trades:      ov.Trades,
		}
	}
	if err := state.SaveCheckpoint(path, ckpt); err != nil {
		log.Printf("[warn] checkpoint save: %v", err)
		return
	}
	if path != "" {
		log.Printf("Checkpoint: saved %d trader overlay(s) to %s", len(ckpt.Traders), path)
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Printf("Metrics: http://%s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("[warn] metrics server: %v", err)
	}
}

// storeRoster adapts the Postgres store to the supervisor's roster interface.
type storeRoster struct {
	st *store.Store
}

func (r storeRoster) LoadAllTraders(ctx context.Context, includePaused bool) ([]mm.RosterEntry, error) {
	rows, err := r.st.LoadAllTraders(ctx, includePaused)
	if err != nil {
		return nil, err
	}
	out := make([]mm.RosterEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, mm.RosterEntry{
			ID:               row.ID,
			MarketSlug:       row.MarketSlug,
			Budget:           row.Budget,
			MinGap:           row.MinGap,
			PriceImprovement: row.PriceImprovement,
			MaxInventory:     row.MaxInventory,
			Status:           row.Status,
		})
	}
	return out, nil
}

func (r storeRoster) GetTraderStatus(ctx context.Context, marketSlug string) (string, error) {
	return r.st.GetTraderStatus(ctx, marketSlug)
}

// gammaResolver adapts the Gamma client to the supervisor's slug resolver.
type gammaResolver struct {
	client *gamma.Client
}

func (g gammaResolver) ResolveSlug(ctx context.Context, slug string) (string, string, float64, error) {
	m, err := g.client.ResolveMarketBySlug(ctx, slug)
	if err != nil {
		return "", "", 0, err
	}
	return m.ConditionID, m.YesTokenID(), m.OrderMinSize, nil
}

// recorder routes fills and log lines through the async store writer.
type recorder struct {
	async *store.AsyncWriter
}

func (r recorder) RecordFill(traderID, marketSlug, side string, price, size float64, orderID string, pnl *float64) {
	r.async.RecordFill(traderID, marketSlug, side, price, size, orderID, pnl)
}

func (r recorder) RecordLog(traderID, level, message string) {
	r.async.RecordLog(traderID, level, message)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func safePrefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

// envDurationSecs parses a Go duration or a bare number of seconds.
func envDurationSecs(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

package mm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Overlay is the restorable per-trader bookkeeping carried across restarts.
type Overlay struct {
	CostBasis   *float64
	RealizedPnL float64
	Trades      int
}

// Manager supervises the fleet: it drives every active trader's step on a
// shared tick, enforces fleet-wide risk limits, keeps the roster in sync with
// the store, and cancels all resting orders on the way out.
//
// The roster map is only mutated between ticks, never concurrently with the
// per-trader fan-out.
type Manager struct {
	cfg      ManagerConfig
	exec     Execution
	roster   Roster
	resolver Resolver
	rec      Recorder
	logf     func(format string, args ...any)
	emit     func(ev Event)

	traders  map[string]*Trader
	overlays map[string]Overlay

	startTime      time.Time
	lastStatus     time.Time
	lastRosterSync time.Time
}

type ManagerDeps struct {
	Execution Execution
	Roster    Roster
	Resolver  Resolver
	Recorder  Recorder
	Logf      func(format string, args ...any)
	Emit      func(ev Event)

	// Overlays seeds cost basis / P&L / trade counts by market slug, usually
	// from a checkpoint written by the previous run.
	Overlays map[string]Overlay
}

func NewManager(cfg ManagerConfig, deps ManagerDeps) (*Manager, error) {
	if deps.Execution == nil {
		return nil, fmt.Errorf("execution required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 5 * time.Second
	}
	if cfg.RosterSyncInterval <= 0 {
		cfg.RosterSyncInterval = 30 * time.Second
	}
	if deps.Logf == nil {
		deps.Logf = func(string, ...any) {}
	}
	if deps.Emit == nil {
		deps.Emit = func(Event) {}
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}

	overlays := deps.Overlays
	if overlays == nil {
		overlays = make(map[string]Overlay)
	}

	return &Manager{
		cfg:      cfg,
		exec:     deps.Execution,
		roster:   deps.Roster,
		resolver: deps.Resolver,
		rec:      deps.Recorder,
		logf:     deps.Logf,
		emit:     deps.Emit,
		traders:  make(map[string]*Trader),
		overlays: overlays,
	}, nil
}

// AddTrader resolves the market slug (when ids are missing) and registers a
// new agent. Adding an already present slug returns the existing trader.
func (m *Manager) AddTrader(ctx context.Context, cfg TraderConfig) (*Trader, error) {
	if existing, ok := m.traders[cfg.MarketSlug]; ok {
		m.logf("[warn] trader for %s already exists", cfg.MarketSlug)
		return existing, nil
	}

	if cfg.TokenID == "" {
		if m.resolver == nil {
			return nil, fmt.Errorf("trader %s: no token id and no resolver", cfg.MarketSlug)
		}
		conditionID, tokenID, minOrderSize, err := m.resolver.ResolveSlug(ctx, cfg.MarketSlug)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", cfg.MarketSlug, err)
		}
		cfg.ConditionID = conditionID
		cfg.TokenID = tokenID
		if cfg.MinOrderSize <= 0 {
			cfg.MinOrderSize = minOrderSize
		}
	}

	t, err := NewTrader(cfg, m.exec, m.rec, m.logf, m.emit)
	if err != nil {
		return nil, err
	}
	if ov, ok := m.overlays[cfg.MarketSlug]; ok {
		t.RestoreOverlay(ov.CostBasis, ov.RealizedPnL, ov.Trades)
		m.logf("[info] %s: restored overlay (pnl=%.2f trades=%d)", cfg.MarketSlug, ov.RealizedPnL, ov.Trades)
	}

	m.traders[cfg.MarketSlug] = t
	m.logf("[info] added trader %s (token=%s)", cfg.displayName(), shortID(cfg.TokenID))
	return t, nil
}

// RemoveTrader stops an agent, cancels its resting orders, and drops it from
// the roster.
func (m *Manager) RemoveTrader(ctx context.Context, marketSlug string) bool {
	t, ok := m.traders[marketSlug]
	if !ok {
		return false
	}
	t.Stop()
	t.CancelAllOrders(ctx)
	m.overlays[marketSlug] = overlayOf(t)
	delete(m.traders, marketSlug)
	m.logf("[info] removed trader %s", marketSlug)
	return true
}

func (m *Manager) TraderCount() int { return len(m.traders) }

func (m *Manager) PauseAll() {
	for _, t := range m.traders {
		t.Pause()
	}
	m.logf("[info] all traders paused")
}

func (m *Manager) ResumeAll() {
	for _, t := range m.traders {
		t.Resume()
	}
	m.logf("[info] all traders resumed")
}

// Overlays returns the current per-trader bookkeeping, for checkpointing.
func (m *Manager) Overlays() map[string]Overlay {
	out := make(map[string]Overlay, len(m.traders)+len(m.overlays))
	for slug, ov := range m.overlays {
		out[slug] = ov
	}
	for slug, t := range m.traders {
		out[slug] = overlayOf(t)
	}
	return out
}

func overlayOf(t *Trader) Overlay {
	basis, pnl, trades := t.OverlaySnapshot()
	return Overlay{CostBasis: basis, RealizedPnL: pnl, Trades: trades}
}

// syncRoster reconciles the local fleet against the store: adds rows that
// appeared, removes rows that vanished or were marked deleted, and flips
// pause/resume to match the stored status.
func (m *Manager) syncRoster(ctx context.Context) {
	if m.roster == nil {
		return
	}

	rows, err := m.roster.LoadAllTraders(ctx, true)
	if err != nil {
		m.logf("[warn] roster sync: %v", err)
		return
	}

	remote := make(map[string]RosterEntry, len(rows))
	for _, row := range rows {
		remote[row.MarketSlug] = row
	}

	for _, row := range rows {
		if _, ok := m.traders[row.MarketSlug]; ok {
			continue
		}
		m.logf("[info] roster: new trader %s", row.MarketSlug)
		t, err := m.AddTrader(ctx, rosterEntryConfig(row))
		if err != nil {
			m.logf("[warn] roster: add %s: %v", row.MarketSlug, err)
			continue
		}
		if row.Status == "paused" {
			t.Pause()
		}
	}

	var toRemove []string
	for slug := range m.traders {
		if _, ok := remote[slug]; !ok {
			toRemove = append(toRemove, slug)
			continue
		}
		status, err := m.roster.GetTraderStatus(ctx, slug)
		if err != nil {
			m.logf("[warn] roster: status %s: %v", slug, err)
			continue
		}
		switch status {
		case "deleted", "":
			toRemove = append(toRemove, slug)
		case "paused":
			if t := m.traders[slug]; !t.IsPaused() {
				m.logf("[info] roster: pausing %s", slug)
				t.Pause()
			}
		case "active":
			if t := m.traders[slug]; t.IsPaused() {
				m.logf("[info] roster: resuming %s", slug)
				t.Resume()
			}
		}
	}
	for _, slug := range toRemove {
		m.logf("[info] roster: trader %s gone from store; removing", slug)
		m.RemoveTrader(ctx, slug)
	}
}

func rosterEntryConfig(row RosterEntry) TraderConfig {
	return TraderConfig{
		ID:                    row.ID,
		MarketSlug:            row.MarketSlug,
		Budget:                row.Budget,
		MinGapCents:           row.MinGap,
		PriceImprovementCents: row.PriceImprovement,
		MaxInventory:          row.MaxInventory,
	}
}

// monitorRisk aggregates exposure and P&L across the fleet and reports
// whether trading may continue. Breaches only stop the loop when emergency
// shutdown is enabled.
func (m *Manager) monitorRisk() bool {
	var exposure, pnl float64
	var active, paused int
	for _, t := range m.traders {
		st := t.Status()
		exposure += abs(st.PositionValue)
		pnl += st.RealizedPnL
		if st.Paused {
			paused++
		} else if st.Active {
			active++
		}
	}

	fleetExposure.Set(exposure)
	fleetPnL.Set(pnl)
	fleetTraders.WithLabelValues("active").Set(float64(active))
	fleetTraders.WithLabelValues("paused").Set(float64(paused))

	if exposure > m.cfg.MaxExposure {
		msg := fmt.Sprintf("total exposure %.2f exceeds limit %.2f", exposure, m.cfg.MaxExposure)
		m.logf("[warn] %s", msg)
		m.rec.RecordLog("", "error", msg)
		if m.cfg.EmergencyShutdown {
			return false
		}
	}
	if pnl < m.cfg.MaxPnLLoss {
		msg := fmt.Sprintf("total pnl %.2f below loss floor %.2f", pnl, m.cfg.MaxPnLLoss)
		m.logf("[warn] %s", msg)
		m.rec.RecordLog("", "error", msg)
		if m.cfg.EmergencyShutdown {
			return false
		}
	}
	return true
}

// stepAll runs one step for every active, non-paused trader concurrently and
// waits for all of them. A panic in one trader's step is contained there.
func (m *Manager) stepAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range m.traders {
		if !t.IsActive() || t.IsPaused() {
			continue
		}
		wg.Add(1)
		go func(t *Trader) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.logf("[warn] trader %s step panic: %v", t.Config().MarketSlug, r)
				}
			}()
			t.Step(ctx)
		}(t)
	}
	wg.Wait()
}

func (m *Manager) reportStatus() {
	now := time.Now()
	if now.Sub(m.lastStatus) < m.cfg.StatusInterval {
		return
	}
	m.lastStatus = now

	slugs := make([]string, 0, len(m.traders))
	for slug := range m.traders {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	var exposure, pnl float64
	var trades, active, paused int
	var b strings.Builder
	for _, slug := range slugs {
		st := m.traders[slug].Status()
		exposure += abs(st.PositionValue)
		pnl += st.RealizedPnL
		trades += st.Trades
		if st.Paused {
			paused++
		} else if st.Active {
			active++
		}

		state := "active"
		if st.Paused {
			state = "paused"
		}
		fmt.Fprintf(&b, "  %-30s %s pos=%.2f ($%.2f) pnl=$%.2f trades=%d budget=$%.2f/$%.2f",
			st.Name, state, st.Inventory, st.PositionValue, st.RealizedPnL, st.Trades,
			st.AvailableBudget, st.Budget)
		fmt.Fprintf(&b, " bid=%s ask=%s", fmtPrice(st.BestBid), fmtPrice(st.BestAsk))
		fmt.Fprintf(&b, " orders=%s\n", fmtOrders(st.Buy, st.Sell))
	}

	uptime := now.Sub(m.startTime).Round(time.Second)
	m.logf("[info] fleet status uptime=%s traders=%d (active=%d paused=%d) exposure=$%.2f pnl=$%.2f trades=%d\n%s",
		uptime, len(m.traders), active, paused, exposure, pnl, trades, b.String())
	m.emit(Event{
		TsMs:        now.UnixMilli(),
		Event:       "status",
		TraderCount: len(m.traders),
		Exposure:    exposure,
		TotalPnL:    pnl,
		UptimeMs:    now.Sub(m.startTime).Milliseconds(),
	})
}

// Run drives the supervisor loop until the context is cancelled or a risk
// breach (with emergency shutdown enabled) stops it. A signal on reloadCh
// forces an immediate roster sync.
func (m *Manager) Run(ctx context.Context, reloadCh <-chan struct{}) {
	m.startTime = time.Now()
	m.logf("[info] manager starting with %d trader(s)", len(m.traders))
	m.emit(Event{TsMs: m.startTime.UnixMilli(), Event: "start", TraderCount: len(m.traders)})

	defer m.Shutdown()

	for {
		if err := ctx.Err(); err != nil {
			return
		}
		if !m.monitorRisk() {
			m.logf("[warn] risk limits exceeded; shutting down fleet")
			return
		}

		forced := false
		select {
		case <-reloadCh:
			forced = true
		default:
		}
		if forced || time.Since(m.lastRosterSync) >= m.cfg.RosterSyncInterval {
			m.syncRoster(ctx)
			m.lastRosterSync = time.Now()
		}

		m.stepAll(ctx)
		m.reportStatus()

		select {
		case <-ctx.Done():
			return
		case <-reloadCh:
			m.syncRoster(ctx)
			m.lastRosterSync = time.Now()
		case <-time.After(m.cfg.PollInterval):
		}
	}
}

// Shutdown stops every trader and cancels all known resting orders. Uses a
// fresh context so cancellation still goes out after the run context died.
func (m *Manager) Shutdown() {
	m.logf("[info] shutting down fleet...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, t := range m.traders {
		t.Stop()
	}
	for slug, t := range m.traders {
		if ids := t.RestingOrderIDs(); len(ids) > 0 {
			m.logf("[info] cancelling %d resting order(s) for %s", len(ids), slug)
		}
		t.CancelAllOrders(ctx)
	}

	m.emit(Event{
		TsMs:        time.Now().UnixMilli(),
		Event:       "summary",
		TraderCount: len(m.traders),
		UptimeMs:    time.Since(m.startTime).Milliseconds(),
	})
	m.logf("[info] fleet shutdown complete")
}

func shortID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:16] + "…"
}

func fmtPrice(p *float64) string {
	if p == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", *p)
}

func fmtOrders(buy, sell *RestingOrder) string {
	var parts []string
	if buy != nil {
		parts = append(parts, fmt.Sprintf("BUY %.2f@%.4f", buy.Size, buy.Price))
	}
	if sell != nil {
		parts = append(parts, fmt.Sprintf("SELL %.2f@%.4f", sell.Size, sell.Price))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

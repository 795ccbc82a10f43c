package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"poly-mmbot/internal/dotenv"
	"poly-mmbot/internal/mm"
	"poly-mmbot/internal/polygonutil"
	"poly-mmbot/internal/store"
)

const microsScale = uint64(1_000_000)

func main() {
	log.SetFlags(0)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	var addrFlag string
	flag.StringVar(&addrFlag, "address", "", "Wallet address to check (default: POLYMARKET_ADDRESS or signer from POLYMARKET_PRIVATE_KEY)")
	flag.Parse()

	rpcURL, err := polygonutil.RPCURLFromEnv()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	owner, ownerSrc, err := resolveOwnerAddress(addrFlag)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	usdcMicros, err := polygonutil.USDCTokenBalanceMicros(ctx, rpcURL, owner)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	fmt.Printf("owner: %s (%s)\n", owner.Hex(), ownerSrc)
	fmt.Printf("usdc_balance: %s (micros=%d)\n", formatMicros(usdcMicros), usdcMicros)

	budgets, src := loadBudgets(ctx)
	if len(budgets) == 0 {
		fmt.Println("budgets: none configured (set TRADER_MARKETS/TRADER_BUDGETS or DATABASE_URL)")
		return
	}

	var total float64
	for _, b := range budgets {
		total += b.budget
		fmt.Printf("  %-30s $%.2f\n", b.slug, b.budget)
	}
	fmt.Printf("budget_total: $%.2f (%d trader(s), from %s)\n", total, len(budgets), src)

	balance := float64(usdcMicros) / float64(microsScale)
	if total > balance {
		fmt.Printf("WARNING: budgets over-allocate the wallet by $%.2f\n", total-balance)
	} else {
		fmt.Printf("headroom: $%.2f\n", balance-total)
	}
}

type traderBudget struct {
	slug   string
	budget float64
}

// loadBudgets reads the trader roster from the database when configured, or
// from the TRADER_* environment otherwise.
func loadBudgets(ctx context.Context) ([]traderBudget, string) {
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		st, err := store.Open(dsn)
		if err != nil {
			log.Printf("[warn] store: %v", err)
		} else {
			rows, err := st.LoadAllTraders(ctx, true)
			if err != nil {
				log.Printf("[warn] store roster: %v", err)
			} else {
				out := make([]traderBudget, 0, len(rows))
				for _, row := range rows {
					out = append(out, traderBudget{slug: row.MarketSlug, budget: row.Budget})
				}
				return out, "store"
			}
		}
	}

	cfgs, err := mm.TraderConfigsFromEnv()
	if err != nil {
		log.Printf("[warn] env roster: %v", err)
		return nil, ""
	}
	out := make([]traderBudget, 0, len(cfgs))
	for _, cfg := range cfgs {
		out = append(out, traderBudget{slug: cfg.MarketSlug, budget: cfg.Budget})
	}
	return out, "env"
}

func resolveOwnerAddress(addrFlag string) (common.Address, string, error) {
	if strings.TrimSpace(addrFlag) != "" {
		raw := strings.TrimSpace(addrFlag)
		if !common.IsHexAddress(raw) {
			return common.Address{}, "", fmt.Errorf("invalid --address %q", raw)
		}
		return common.HexToAddress(raw), "--address", nil
	}

	if envAddr := firstNonEmpty(os.Getenv("POLYMARKET_ADDRESS"), os.Getenv("FUNDER")); strings.TrimSpace(envAddr) != "" {
		if !common.IsHexAddress(envAddr) {
			return common.Address{}, "", fmt.Errorf("invalid POLYMARKET_ADDRESS env %q", envAddr)
		}
		return common.HexToAddress(envAddr), "POLYMARKET_ADDRESS", nil
	}

	if pkHex := firstNonEmpty(os.Getenv("POLYMARKET_PRIVATE_KEY"), os.Getenv("PRIVATE_KEY")); strings.TrimSpace(pkHex) != "" {
		pkHex = strings.TrimSpace(strings.TrimPrefix(pkHex, "0x"))
		pk, err := crypto.HexToECDSA(pkHex)
		if err != nil {
			return common.Address{}, "", fmt.Errorf("invalid POLYMARKET_PRIVATE_KEY: %w", err)
		}
		return crypto.PubkeyToAddress(pk.PublicKey), "POLYMARKET_PRIVATE_KEY", nil
	}

	return common.Address{}, "", fmt.Errorf("wallet required: set POLYMARKET_ADDRESS, POLYMARKET_PRIVATE_KEY, or pass --address")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func formatMicros(m uint64) string {
	whole := m / microsScale
	frac := m % microsScale
	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}
	fs := fmt.Sprintf("%06d", frac)
	fs = strings.TrimRight(fs, "0")
	return fmt.Sprintf("%d.%s", whole, fs)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"poly-mmbot/internal/dotenv"
	"poly-mmbot/internal/gamma"
)

func main() {
	log.SetFlags(0)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	var gammaURL string
	flag.StringVar(&gammaURL, "gamma", "", "Gamma API base URL (default: GAMMA_URL or https://gamma-api.polymarket.com)")
	flag.Parse()

	slugs := flag.Args()
	if len(slugs) == 0 {
		log.Fatalf("[fatal] usage: resolve [-gamma url] <market-slug> [more-slugs...]")
	}

	if strings.TrimSpace(gammaURL) == "" {
		gammaURL = strings.TrimSpace(os.Getenv("GAMMA_URL"))
	}
	if gammaURL == "" {
		gammaURL = "https://gamma-api.polymarket.com"
	}

	client, err := gamma.NewClient(gammaURL)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	for _, slug := range slugs {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		m, err := client.ResolveMarketBySlug(ctx, slug)
		cancel()
		if err != nil {
			log.Printf("[warn] %s: %v", slug, err)
			continue
		}

		fmt.Printf("slug: %s\n", m.Slug)
		fmt.Printf("question: %s\n", m.Question)
		fmt.Printf("condition_id: %s\n", m.ConditionID)
		for i, tokenID := range m.TokenIDs {
			outcome := ""
			if i < len(m.Outcomes) {
				outcome = m.Outcomes[i]
			}
			fmt.Printf("token[%d]: %s (%s)\n", i, tokenID, outcome)
		}
		fmt.Printf("min_order_size: %g\n", m.OrderMinSize)
		fmt.Printf("active: %v closed: %v\n", m.Active, m.Closed)
		fmt.Println()
	}
}

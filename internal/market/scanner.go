package market

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonnyspicer/mango"
	"golang.org/x/time/rate"
)

const platformManifold = "manifold"

// Scanner fetches markets from the Manifold API and converts them to snapshots.
type Scanner struct {
	client  *mango.Client
	limiter *rate.Limiter
}

// NewScanner paces API calls at requestsPerSecond (burst 1). A non-positive
// rate disables pacing.
func NewScanner(client *mango.Client, requestsPerSecond float64) *Scanner {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &Scanner{client: client, limiter: rate.NewLimiter(limit, 1)}
}

// ScanBinary fetches open binary markets sorted by liquidity.
func (s *Scanner) ScanBinary(ctx context.Context, limit int64) ([]Snapshot, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	markets, err := s.client.SearchMarkets(mango.SearchMarketsRequest{
		Filter:       "open",
		ContractType: "BINARY",
		Sort:         "liquidity",
		Limit:        limit,
	})
	if err != nil {
		return nil, fmt.Errorf("searching binary markets: %w", err)
	}
	if markets == nil {
		return nil, nil
	}

	now := time.Now()
	result := make([]Snapshot, 0, len(*markets))
	for _, m := range *markets {
		if string(m.OutcomeType) != "BINARY" {
			continue
		}
		result = append(result, fullMarketToSnapshot(m, now))
	}
	slog.Info("scanned binary markets", "count", len(result))
	return result, nil
}

// Manifold binary markets quote a single probability, so the NO leg is its
// complement.
func fullMarketToSnapshot(m mango.FullMarket, observedAt time.Time) Snapshot {
	return Snapshot{
		ID:            m.Id,
		Question:      m.Question,
		OutcomePrices: [2]float64{m.Probability, 1 - m.Probability},
		Volume:        m.Volume,
		Liquidity:     m.TotalLiquidity,
		Active:        !m.IsResolved,
		Platform:      platformManifold,
		ObservedAt:    observedAt,
	}
}

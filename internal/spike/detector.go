// Package spike flags short-term price dislocations per market and suppresses
// repeat signals while a market is cooling down.
package spike

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"quantedge/internal/config"
	"quantedge/internal/market"
	"quantedge/internal/ringbuf"
)

const (
	minHistory     = 3
	referenceSpan  = 5
	actionMinConf  = 0.6
	defaultWindow  = 30
	defaultRecents = 100
)

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

type Action string

const (
	BuyYes Action = "buy_yes"
	BuyNo  Action = "buy_no"
	Wait   Action = "wait"
)

// Settings control a single detection pass. Threshold is a fraction of the
// reference price, expected in 0.01-0.2.
type Settings struct {
	Threshold float64
	Cooldown  time.Duration
}

// SettingsFrom reads the default detection settings from config.
func SettingsFrom(cfg config.SpikeConfig) Settings {
	return Settings{Threshold: cfg.Threshold, Cooldown: cfg.Cooldown.Duration}
}

type PricePoint struct {
	MarketID  string
	Price     float64
	Timestamp time.Time
	Volume    float64 // zero when unknown
}

// Event is an immutable record of a detected dislocation.
type Event struct {
	ID             string
	MarketID       string
	Question       string
	PriceChange    float64 // current - reference
	ChangePercent  float64 // |PriceChange| / reference * 100
	Direction      Direction
	ReferencePrice float64
	CurrentPrice   float64
	Confidence     float64
	Action         Action
	DetectedAt     time.Time
}

// marketState is locked per market so detection on different markets never
// contends.
type marketState struct {
	mu            sync.Mutex
	history       *ringbuf.Buffer[PricePoint]
	question      string
	cooldownUntil time.Time
}

type Detector struct {
	mu         sync.RWMutex
	markets    map[string]*marketState
	windowSize int

	recentMu sync.RWMutex
	recent   *ringbuf.Buffer[Event]

	now func() time.Time
}

func NewDetector(cfg config.SpikeConfig) *Detector {
	window := cfg.WindowSize
	if window <= 0 {
		window = defaultWindow
	}
	recents := cfg.RecentLimit
	if recents <= 0 {
		recents = defaultRecents
	}
	return &Detector{
		markets:    make(map[string]*marketState),
		windowSize: window,
		recent:     ringbuf.New[Event](recents),
		now:        time.Now,
	}
}

func (d *Detector) lookup(marketID string) (*marketState, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st, ok := d.markets[marketID]
	return st, ok
}

func (d *Detector) state(marketID string) *marketState {
	if st, ok := d.lookup(marketID); ok {
		return st
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.markets[marketID]; ok {
		return st
	}
	st := &marketState{history: ringbuf.New[PricePoint](d.windowSize)}
	d.markets[marketID] = st
	return st
}

// RecordPrice appends a price point to the market's bounded history.
func (d *Detector) RecordPrice(marketID string, price, volume float64) {
	st := d.state(marketID)
	st.mu.Lock()
	st.history.Push(PricePoint{
		MarketID:  marketID,
		Price:     price,
		Timestamp: d.now(),
		Volume:    volume,
	})
	st.mu.Unlock()
}

// History returns the retained points for a market, oldest first.
func (d *Detector) History(marketID string) []PricePoint {
	st, ok := d.lookup(marketID)
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.history.Slice()
}

// DetectSpike compares the newest price against the mean of up to four
// preceding points. It reports false when history is too short, the market
// is cooling down, or the move is below threshold. Unknown markets are not
// tracked.
func (d *Detector) DetectSpike(marketID string, s Settings) (Event, bool) {
	st, ok := d.lookup(marketID)
	if !ok {
		return Event{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	now := d.now()
	n := st.history.Len()
	if n < minHistory {
		return Event{}, false
	}
	if now.Before(st.cooldownUntil) {
		return Event{}, false
	}

	span := min(referenceSpan, n)
	var sum float64
	for i := n - span; i < n-1; i++ {
		sum += st.history.At(i).Price
	}
	reference := sum / float64(span-1)
	latest, _ := st.history.Last()
	current := latest.Price

	if !(reference > 0) || !(current > 0) || math.IsInf(reference, 0) || math.IsInf(current, 0) {
		return Event{}, false
	}

	change := current - reference
	magnitude := math.Abs(change) / reference
	if magnitude < s.Threshold {
		return Event{}, false
	}

	confidence := 1.0
	if s.Threshold > 0 {
		confidence = math.Min(magnitude/(2*s.Threshold), 1)
	}

	dir := Up
	if change < 0 {
		dir = Down
	}

	action := Wait
	if confidence > actionMinConf {
		// Fade the move: an upward spike is expected to revert, so buy NO.
		if dir == Up {
			action = BuyNo
		} else {
			action = BuyYes
		}
	}

	ev := Event{
		ID:             uuid.New().String(),
		MarketID:       marketID,
		Question:       st.question,
		PriceChange:    change,
		ChangePercent:  magnitude * 100,
		Direction:      dir,
		ReferencePrice: reference,
		CurrentPrice:   current,
		Confidence:     confidence,
		Action:         action,
		DetectedAt:     now,
	}
	st.cooldownUntil = now.Add(s.Cooldown)

	d.recentMu.Lock()
	d.recent.Push(ev)
	d.recentMu.Unlock()

	slog.Info("spike detected",
		"market", marketID,
		"direction", dir,
		"change_pct", ev.ChangePercent,
		"confidence", confidence,
		"action", action,
	)
	return ev, true
}

// AnalyzeMarkets records each market's YES price and runs detection on it.
func (d *Detector) AnalyzeMarkets(markets []market.Snapshot, s Settings) []Event {
	var events []Event
	for _, m := range markets {
		st := d.state(m.ID)
		st.mu.Lock()
		st.question = m.Question
		st.mu.Unlock()

		d.RecordPrice(m.ID, m.YesPrice(), m.Volume)
		if ev, ok := d.DetectSpike(m.ID, s); ok {
			events = append(events, ev)
		}
	}
	slog.Debug("spike analysis complete", "markets", len(markets), "events", len(events))
	return events
}

// RecentSpikes returns up to limit events, newest first. limit <= 0 means all
// retained events.
func (d *Detector) RecentSpikes(limit int) []Event {
	d.recentMu.RLock()
	defer d.recentMu.RUnlock()
	return d.recent.Newest(limit)
}

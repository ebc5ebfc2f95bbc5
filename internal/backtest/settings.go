package backtest

import (
	"encoding/json"
	"fmt"
)

type Strategy string

const (
	StrategySpike       Strategy = "spike"
	StrategyArbitrage   Strategy = "arbitrage"
	StrategyKelly       Strategy = "kelly"
	StrategyStatistical Strategy = "statistical"
)

// Settings is one of SpikeSettings, ArbitrageSettings, KellySettings or
// StatisticalSettings. The simulator dispatches on the concrete type.
type Settings interface {
	Strategy() Strategy
}

// SpikeSettings drives the mean-reversion simulator. SpikeThreshold is a
// fraction of the previous day's price, typically 0.01 to 0.2.
type SpikeSettings struct {
	SpikeThreshold  float64 `json:"spike_threshold"`
	PositionPercent float64 `json:"position_percent"`
}

type ArbitrageSettings struct {
	MinProfit       float64 `json:"min_profit"`
	PositionPercent float64 `json:"position_percent"`
}

// KellySettings drives the Monte Carlo Kelly simulator. KellyFraction is
// typically 0.1 to 1.0.
type KellySettings struct {
	KellyFraction      float64 `json:"kelly_fraction"`
	MaxPositionPercent float64 `json:"max_position_percent"`
	MinEdge            float64 `json:"min_edge"`
}

// StatisticalSettings selects a strategy the simulator does not trade yet.
// A run with it completes with no trades.
type StatisticalSettings struct{}

func (SpikeSettings) Strategy() Strategy       { return StrategySpike }
func (ArbitrageSettings) Strategy() Strategy   { return StrategyArbitrage }
func (KellySettings) Strategy() Strategy       { return StrategyKelly }
func (StatisticalSettings) Strategy() Strategy { return StrategyStatistical }

// DefaultSettings returns the stock settings for a strategy name.
func DefaultSettings(name string) (Settings, error) {
	switch Strategy(name) {
	case StrategySpike:
		return SpikeSettings{SpikeThreshold: 0.05, PositionPercent: 0.02}, nil
	case StrategyArbitrage:
		return ArbitrageSettings{MinProfit: 0.02, PositionPercent: 0.02}, nil
	case StrategyKelly:
		return KellySettings{KellyFraction: 0.5, MaxPositionPercent: 0.05, MinEdge: 0.05}, nil
	case StrategyStatistical:
		return StatisticalSettings{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, name)
	}
}

func marshalSettings(s Settings) ([]byte, error) {
	return json.Marshal(s)
}

func unmarshalSettings(strategy string, raw []byte) (Settings, error) {
	switch Strategy(strategy) {
	case StrategySpike:
		var s SpikeSettings
		err := json.Unmarshal(raw, &s)
		return s, err
	case StrategyArbitrage:
		var s ArbitrageSettings
		err := json.Unmarshal(raw, &s)
		return s, err
	case StrategyKelly:
		var s KellySettings
		err := json.Unmarshal(raw, &s)
		return s, err
	case StrategyStatistical:
		return StatisticalSettings{}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
}

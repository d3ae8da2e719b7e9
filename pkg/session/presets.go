package session

import (
	"math"
)

// Win conditions for campaign play.
const (
	WinBestOf      = "best_of"
	WinFirstTo     = "first_to"
	WinTotalTime   = "total_time"
	WinTotalPoints = "total_points"
)

// ScoringFormula computes a player's point total from the campaign state.
// Formulas are pure functions of the state; they are never persisted and are
// re-attached from the preset registry on restore.
type ScoringFormula func(c *CampaignState, playerID int) int64

// CampaignConfig is the immutable per-preset configuration.
type CampaignConfig struct {
	Rounds               int             `json:"rounds"`
	TimePerRound         int64           `json:"timePerRound"`
	TimeDecreasePerRound int64           `json:"timeDecreasePerRound"`
	MinTime              int64           `json:"minTime"`
	BonusPerTurn         int64           `json:"bonusPerTurn"`
	StartingLife         int             `json:"startingLife"`
	WinCondition         string          `json:"winCondition"`
	WinTarget            int             `json:"winTarget"`
	BattleMultipliers    map[int]float64 `json:"battleMultipliers,omitempty"`
	PlayerMultipliers    map[int]float64 `json:"playerMultipliers,omitempty"`
	LevelThresholds      []int64         `json:"levelThresholds,omitempty"`
	Scoring              ScoringFormula  `json:"-"`
}

// RoundTime returns the per-player clock for the given 1-based round,
// floored at MinTime.
func (c *CampaignConfig) RoundTime(round int) int64 {
	t := c.TimePerRound - int64(round-1)*c.TimeDecreasePerRound
	if t < c.MinTime {
		return c.MinTime
	}
	return t
}

// battleMultiplier returns the round multiplier, defaulting to 1.
func (c *CampaignConfig) battleMultiplier(round int) float64 {
	if m, ok := c.BattleMultipliers[round]; ok {
		return m
	}
	return 1
}

// playerMultiplier returns the unique-target-count multiplier, defaulting to
// the largest configured tier at or below n, then 1.
func (c *CampaignConfig) playerMultiplier(n int) float64 {
	if m, ok := c.PlayerMultipliers[n]; ok {
		return m
	}
	best := 1.0
	bestKey := 0
	for k, m := range c.PlayerMultipliers {
		if k <= n && k > bestKey {
			bestKey, best = k, m
		}
	}
	return best
}

// accumulatedScoring is the formula shared by the non-points presets: carried
// points plus raw damage dealt this round.
func accumulatedScoring(c *CampaignState, playerID int) int64 {
	total := c.accumulated(playerID)
	for _, dmg := range c.DamageTracker[playerID] {
		total += dmg
	}
	return total
}

// wastelandsScoring applies the unique-target and per-round battle
// multipliers to the damage dealt this round.
func wastelandsScoring(c *CampaignState, playerID int) int64 {
	var damage int64
	unique := 0
	for _, dmg := range c.DamageTracker[playerID] {
		if dmg > 0 {
			unique++
			damage += dmg
		}
	}
	if damage == 0 {
		return c.accumulated(playerID)
	}
	mult := c.Config.playerMultiplier(unique) * c.Config.battleMultiplier(c.CurrentRound)
	return c.accumulated(playerID) + int64(math.Floor(float64(damage)*mult))
}

// Presets, keyed by identifier.
var presets = map[string]CampaignConfig{
	"standard": {
		Rounds:               5,
		TimePerRound:         10 * 60 * 1000,
		TimeDecreasePerRound: 60 * 1000,
		MinTime:              5 * 60 * 1000,
		StartingLife:         DefaultLife,
		WinCondition:         WinBestOf,
		WinTarget:            3,
		Scoring:              accumulatedScoring,
	},
	"blitz": {
		Rounds:               7,
		TimePerRound:         5 * 60 * 1000,
		TimeDecreasePerRound: 30 * 1000,
		MinTime:              2 * 60 * 1000,
		StartingLife:         DefaultLife,
		WinCondition:         WinFirstTo,
		WinTarget:            4,
		Scoring:              accumulatedScoring,
	},
	"endurance": {
		Rounds:       10,
		TimePerRound: 15 * 60 * 1000,
		MinTime:      15 * 60 * 1000,
		StartingLife: DefaultLife,
		WinCondition: WinTotalTime,
		Scoring:      accumulatedScoring,
	},
	"wastelands": {
		Rounds:       3,
		TimePerRound: 6 * 60 * 1000,
		MinTime:      6 * 60 * 1000,
		BonusPerTurn: 30 * 1000,
		StartingLife: DefaultLife,
		WinCondition: WinTotalPoints,
		BattleMultipliers: map[int]float64{
			1: 1.0,
			2: 1.5,
			3: 2.0,
		},
		PlayerMultipliers: map[int]float64{
			1: 1.0,
			2: 1.25,
			3: 1.5,
			4: 2.0,
		},
		LevelThresholds: []int64{10, 25, 50, 100},
		Scoring:         wastelandsScoring,
	},
}

// Preset returns a copy of the named preset config and whether it exists.
func Preset(name string) (CampaignConfig, bool) {
	cfg, ok := presets[name]
	if !ok {
		return CampaignConfig{}, false
	}
	// Copy mutable members so callers cannot mutate the registry.
	cfg.BattleMultipliers = copyIntFloatMap(cfg.BattleMultipliers)
	cfg.PlayerMultipliers = copyIntFloatMap(cfg.PlayerMultipliers)
	cfg.LevelThresholds = append([]int64(nil), cfg.LevelThresholds...)
	return cfg, true
}

// PresetNames lists the registered preset identifiers.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	return names
}

// PresetScoring returns the scoring formula for a preset tag, falling back to
// the accumulated formula for unknown tags.
func PresetScoring(name string) ScoringFormula {
	if cfg, ok := presets[name]; ok && cfg.Scoring != nil {
		return cfg.Scoring
	}
	return accumulatedScoring
}

func copyIntFloatMap(m map[int]float64) map[int]float64 {
	if m == nil {
		return nil
	}
	out := make(map[int]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

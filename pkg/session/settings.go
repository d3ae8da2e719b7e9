package session

import (
	"fmt"

	"github.com/manaclock/manaclock/pkg/utils"
)

// Penalty types recognized by AddPenalty.
const (
	PenaltyWarning       = "warning"
	PenaltyTimeDeduction = "time_deduction"
	PenaltyGameLoss      = "game_loss"
)

const (
	MinPlayers           = 2
	MaxPlayers           = 8
	MaxWarningThresholds = 10
)

// Settings holds the per-session options. All durations are milliseconds.
type Settings struct {
	PlayerCount          int     `json:"playerCount"`
	InitialTime          int64   `json:"initialTime"`
	WarningThresholds    []int64 `json:"warningThresholds"`
	PenaltyType          string  `json:"penaltyType"`
	PenaltyTimeDeduction int64   `json:"penaltyTimeDeduction"`
	BonusTime            int64   `json:"bonusTime"`
	TimeoutGracePeriod   int64   `json:"timeoutGracePeriod"`
	TimeoutPenaltyLives  int     `json:"timeoutPenaltyLives"`
	TimeoutPenaltyDrunk  int     `json:"timeoutPenaltyDrunk"`
	TimeoutBonusTime     int64   `json:"timeoutBonusTime"`
	AudioEnabled         bool    `json:"audioEnabled"`
}

// DefaultSettings returns the options applied when a create command omits them.
func DefaultSettings() Settings {
	return Settings{
		PlayerCount:          4,
		InitialTime:          20 * 60 * 1000,
		WarningThresholds:    []int64{60000, 30000, 10000},
		PenaltyType:          PenaltyWarning,
		PenaltyTimeDeduction: 60000,
		BonusTime:            0,
		TimeoutGracePeriod:   30000,
		TimeoutPenaltyLives:  1,
		TimeoutPenaltyDrunk:  1,
		TimeoutBonusTime:     60000,
		AudioEnabled:         true,
	}
}

// Validate checks every field against the documented ranges.
func (s *Settings) Validate() error {
	if s.PlayerCount < MinPlayers || s.PlayerCount > MaxPlayers {
		return fmt.Errorf("playerCount must be between %d and %d", MinPlayers, MaxPlayers)
	}
	if s.InitialTime <= 0 || s.InitialTime > MaxTimeMs {
		return fmt.Errorf("initialTime must be a positive duration of at most 24h")
	}
	if err := ValidateWarningThresholds(s.WarningThresholds); err != nil {
		return err
	}
	switch s.PenaltyType {
	case PenaltyWarning, PenaltyTimeDeduction, PenaltyGameLoss:
	default:
		return fmt.Errorf("unknown penaltyType %q", s.PenaltyType)
	}
	for _, v := range []int64{s.PenaltyTimeDeduction, s.BonusTime, s.TimeoutGracePeriod, s.TimeoutBonusTime} {
		if v < 0 || v > MaxTimeMs {
			return fmt.Errorf("time values must be non-negative and at most 24h")
		}
	}
	if s.TimeoutPenaltyLives < 0 || s.TimeoutPenaltyDrunk < 0 {
		return fmt.Errorf("timeout penalties must be non-negative")
	}
	return nil
}

// ValidateWarningThresholds enforces 1..10 positive values of at most 24h.
func ValidateWarningThresholds(ts []int64) error {
	if len(ts) == 0 {
		return fmt.Errorf("warningThresholds must not be empty")
	}
	if len(ts) > MaxWarningThresholds {
		return fmt.Errorf("at most %d warning thresholds allowed", MaxWarningThresholds)
	}
	for _, t := range ts {
		if t <= 0 || t > MaxTimeMs {
			return fmt.Errorf("warning thresholds must be positive and at most 24h")
		}
	}
	return nil
}

// SettingsUpdate carries the subset of options adjustable after create.
type SettingsUpdate struct {
	WarningThresholds   []int64 `json:"warningThresholds,omitempty"`
	BonusTime           *int64  `json:"bonusTime,omitempty"`
	TimeoutPenaltyLives *int    `json:"timeoutPenaltyLives,omitempty"`
	TimeoutPenaltyDrunk *int    `json:"timeoutPenaltyDrunk,omitempty"`
	TimeoutBonusTime    *int64  `json:"timeoutBonusTime,omitempty"`
}

// Apply validates and merges the update into s.
func (s *Settings) Apply(u SettingsUpdate) error {
	if u.WarningThresholds != nil {
		if err := ValidateWarningThresholds(u.WarningThresholds); err != nil {
			return err
		}
	}
	for _, v := range []*int64{u.BonusTime, u.TimeoutBonusTime} {
		if v != nil && (*v < 0 || *v > MaxTimeMs) {
			return fmt.Errorf("time values must be non-negative and at most 24h")
		}
	}
	for _, v := range []*int{u.TimeoutPenaltyLives, u.TimeoutPenaltyDrunk} {
		if v != nil && *v < 0 {
			return fmt.Errorf("timeout penalties must be non-negative")
		}
	}

	if u.WarningThresholds != nil {
		s.WarningThresholds = append([]int64(nil), u.WarningThresholds...)
	}
	if u.BonusTime != nil {
		s.BonusTime = utils.ClampInt64(*u.BonusTime, 0, MaxTimeMs)
	}
	if u.TimeoutPenaltyLives != nil {
		s.TimeoutPenaltyLives = *u.TimeoutPenaltyLives
	}
	if u.TimeoutPenaltyDrunk != nil {
		s.TimeoutPenaltyDrunk = *u.TimeoutPenaltyDrunk
	}
	if u.TimeoutBonusTime != nil {
		s.TimeoutBonusTime = utils.ClampInt64(*u.TimeoutBonusTime, 0, MaxTimeMs)
	}
	return nil
}

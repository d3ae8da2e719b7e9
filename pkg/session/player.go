package session

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/manaclock/manaclock/pkg/utils"
)

// Clamp bounds for player attributes.
const (
	MaxTimeMs  = int64(24 * time.Hour / time.Millisecond)
	MinLife    = -1000
	MaxLife    = 1000
	MinCounter = 0
	MaxCounter = 1000

	DefaultLife = 20
	MaxNameLen  = 50

	// Reconnect tokens: 32 random bytes, hex encoded, valid for one hour.
	tokenBytes = 32
	TokenTTL   = time.Hour
)

// Player is one seat in a session, identified by 1..N.
type Player struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	TimeRemaining  int64  `json:"timeRemaining"` // ms, floored at 0
	Life           int    `json:"life"`
	DrunkCounter   int    `json:"drunkCounter"`
	GenericCounter int    `json:"genericCounter"`
	Penalties      int    `json:"penalties"`
	IsEliminated   bool   `json:"isEliminated"`
	Color          string `json:"color,omitempty"`

	ClaimedBy      string `json:"claimedBy,omitempty"`
	ReconnectToken string `json:"reconnectToken,omitempty"`
	TokenExpiry    int64  `json:"tokenExpiry,omitempty"` // epoch ms

	TimeoutPending        bool  `json:"timeoutPending"`
	TimeoutChoiceDeadline int64 `json:"timeoutChoiceDeadline,omitempty"` // epoch ms
}

// NewPlayer creates a fresh player slot with the given starting time and life.
func NewPlayer(id int, initialTime int64, life int) *Player {
	if life == 0 {
		life = DefaultLife
	}
	return &Player{
		ID:            id,
		Name:          defaultPlayerName(id),
		TimeRemaining: utils.ClampInt64(initialTime, 0, MaxTimeMs),
		Life:          utils.ClampInt(life, MinLife, MaxLife),
	}
}

func defaultPlayerName(id int) string {
	return "Player " + strconv.Itoa(id)
}

// MintToken issues a fresh reconnect token bound to the claiming client.
// Any previous token is invalidated.
func (p *Player) MintToken(now time.Time) string {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms; an error here
		// means the process cannot continue issuing secrets.
		panic("session: crypto/rand failed: " + err.Error())
	}
	p.ReconnectToken = hex.EncodeToString(b)
	p.TokenExpiry = now.Add(TokenTTL).UnixMilli()
	return p.ReconnectToken
}

// TokenValid reports whether tok matches the stored token and has not expired.
func (p *Player) TokenValid(tok string, now time.Time) bool {
	return p.ReconnectToken != "" && p.ReconnectToken == tok && now.UnixMilli() < p.TokenExpiry
}

// TokenExpired reports whether a token exists but is past its expiry.
func (p *Player) TokenExpired(now time.Time) bool {
	return p.ReconnectToken != "" && now.UnixMilli() >= p.TokenExpiry
}

// ClearClaim releases the slot: claim, token and expiry are wiped together so
// the claimed-iff-token invariant holds.
func (p *Player) ClearClaim() {
	p.ClaimedBy = ""
	p.ReconnectToken = ""
	p.TokenExpiry = 0
}

// SetLife clamps and applies a new life total, returning old and new values.
func (p *Player) SetLife(life int) (old, applied int) {
	old = p.Life
	p.Life = utils.ClampInt(life, MinLife, MaxLife)
	return old, p.Life
}

// SetTime clamps and applies a new remaining time.
func (p *Player) SetTime(ms int64) {
	p.TimeRemaining = utils.ClampInt64(ms, 0, MaxTimeMs)
}

// AddTime adds ms (may be negative) to the remaining time, clamped.
func (p *Player) AddTime(ms int64) {
	p.SetTime(p.TimeRemaining + ms)
}

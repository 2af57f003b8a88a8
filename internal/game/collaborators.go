package game

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// AnswerSelector picks the secret word for a new round.
type AnswerSelector interface {
	SelectAnswer(ctx context.Context, c Catalog) (string, error)
}

// RandomAnswer draws from the catalog's answer set.
type RandomAnswer struct{}

func (RandomAnswer) SelectAnswer(ctx context.Context, c Catalog) (string, error) {
	return c.PickRandomAnswer()
}

// FixedAnswer always selects the same word. Test and simulation wiring only.
type FixedAnswer string

func (f FixedAnswer) SelectAnswer(ctx context.Context, c Catalog) (string, error) {
	return string(f), nil
}

// StaticDirectory is a map-backed IdentityResolver. Unknown players get a
// derived placeholder address.
type StaticDirectory struct {
	mu      sync.RWMutex
	players map[PlayerID]Player
}

func NewStaticDirectory(players ...Player) *StaticDirectory {
	d := &StaticDirectory{players: make(map[PlayerID]Player)}
	for _, p := range players {
		d.players[p.ID] = p
	}
	return d
}

func (d *StaticDirectory) Set(p Player) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.players[p.ID] = p
}

func (d *StaticDirectory) ResolvePlayer(ctx context.Context, id PlayerID) (Player, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if p, ok := d.players[id]; ok {
		return p, nil
	}
	return Player{ID: id, Address: fmt.Sprintf("0x%040x", id)}, nil
}

// NopCache satisfies Invalidator and ViewCache without caching anything.
type NopCache struct{}

func (NopCache) InvalidateRound(ctx context.Context, roundID int64) error { return nil }
func (NopCache) InvalidateTransition(ctx context.Context, oldRoundID int64) error { return nil }
func (NopCache) GetSummary(ctx context.Context) (*RoundSummary, bool) { return nil, false }
func (NopCache) SetSummary(ctx context.Context, s *RoundSummary) {}
func (NopCache) GetWheel(ctx context.Context, roundID int64) ([]string, bool) { return nil, false }
func (NopCache) SetWheel(ctx context.Context, roundID int64, words []string) {}

// LogPayouts only logs transfers. Used when no settlement transport is
// configured.
type LogPayouts struct {
	Log *slog.Logger
}

func (l LogPayouts) ExecutePayouts(ctx context.Context, roundID int64, transfers []Transfer) (string, error) {
	for _, t := range transfers {
		l.Log.Info("payout", "round_id", roundID, "role", t.Role, "address", t.Address, "amount", t.Amount.String())
	}
	return fmt.Sprintf("log-%d", roundID), nil
}

func (l LogPayouts) IssueBonusReward(ctx context.Context, r BonusReward) error {
	l.Log.Info("bonus reward", "round_id", r.RoundID, "player_id", r.PlayerID, "word_index", r.WordIndex, "units", r.Units)
	return nil
}

type logAlerter struct {
	log *slog.Logger
}

func (a logAlerter) Alert(ctx context.Context, err error, tags map[string]string) {
	a.log.Error("integrity violation", "error", err, "tags", tags)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(message interface{}) {}

// Package engine implements the authoritative Fool-Stone state machine. It is
// pure and deterministic: no clocks, no goroutines, no I/O. Every operation is
// total over (state, action); rejected actions leave the state valid and may
// only append an explanatory line to the public log.
package engine

import (
	"errors"
	"fmt"
	"sort"
)

const (
	// NumPlayers is fixed: five seats, seven flasks, two of which leave the
	// round unpicked.
	NumPlayers = 7 - 2

	minThreshold = 5
	maxThreshold = 12

	// Reward tiers by final place. Places past the table get the last tier.
	rewardDefault = 10
)

var rewards = [...]int{100, 50, 30, 10, 10}

var ErrPlayerCount = errors.New("engine: exactly five players required")

// Score is a player's public/secret score pair.
type Score struct {
	Pub int `json:"pub"`
	Sec int `json:"sec"`
}

func (s Score) Total() int { return s.Pub + s.Sec }

// Player is a stable game identity, bound to seats in seat order (P1..P5).
type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsFool bool   `json:"isFool,omitempty"`
}

// PickRecord is one flask pick during the select phase.
type PickRecord struct {
	PlayerID string `json:"playerId"`
	Flask    int    `json:"flask"`
	Stone    Stone  `json:"stone"`
}

// RankRow is one line of the terminal ranking.
type RankRow struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Pub      int    `json:"pub"`
	Sec      int    `json:"sec"`
	Total    int    `json:"total"`
	Place    int    `json:"place"`
	Reward   int    `json:"reward"`
}

// Game holds one full game: rule state plus the round-scoped caches a resumed
// client needs (flask mappings, trick bookkeeping, round-start baseline).
type Game struct {
	Seed    string   `json:"seed"`
	Round   int      `json:"round"`
	Players []Player `json:"players"`
	// Order is this round's seating order (player ids, first picker first).
	Order  []string         `json:"order"`
	Scores map[string]Score `json:"scores"`
	// Hands maps player id to the held stone; NoStone while empty.
	Hands map[string]Stone `json:"hands"`
	Phase Phase            `json:"phase"`

	// Flasks is the undealt pool for the current round, flask no -> stone.
	Flasks      map[int]Stone    `json:"flasks"`
	Discarded   []int            `json:"discarded"`
	Picks       []PickRecord     `json:"picks"`
	FirstHolder map[Stone]string `json:"initialHolder"`
	Logs        []string         `json:"logs"`
	CastIdx     int              `json:"castIdx"`
	Omen        Stone            `json:"omen,omitempty"`

	Threshold  int       `json:"endThreshold"`
	IsOver     bool      `json:"isOver"`
	FinalRanks []RankRow `json:"finalRanks,omitempty"`

	// FlaskMap is the round's fixed flask -> stone mapping; NextFlaskMap is
	// the replacement queued by the fool's trick for the next round.
	FlaskMap         map[int]Stone    `json:"flaskMap"`
	NextFlaskMap     map[int]Stone    `json:"nextFlaskMap,omitempty"`
	TrickUsed        bool             `json:"foolTrickUsed"`
	RoundStartScores map[string]Score `json:"roundStartScores"`
}

// NewGame builds a game for exactly five named players and runs the first
// round start. The seed fixes every random decision of the whole game.
func NewGame(names []string, seed string, threshold int) (*Game, error) {
	if len(names) != NumPlayers {
		return nil, ErrPlayerCount
	}
	if threshold < minThreshold {
		threshold = minThreshold
	}
	if threshold > maxThreshold {
		threshold = maxThreshold
	}

	g := &Game{
		Seed:        seed,
		Round:       1,
		Players:     make([]Player, 0, NumPlayers),
		Scores:      make(map[string]Score, NumPlayers),
		Hands:       make(map[string]Stone, NumPlayers),
		Phase:       PhaseSelect,
		FirstHolder: make(map[Stone]string, len(Stones)),
		Threshold:   threshold,
	}

	ids := make([]string, 0, NumPlayers)
	for i, name := range names {
		id := fmt.Sprintf("P%d", i+1)
		g.Players = append(g.Players, Player{ID: id, Name: name})
		g.Scores[id] = Score{}
		g.Hands[id] = NoStone
		ids = append(ids, id)
	}

	foolIdx := newRNG(seed + "#fool").intn(NumPlayers)
	g.Players[foolIdx].IsFool = true

	g.Order = shuffle(seed+"#order", ids)
	g.FlaskMap = flaskMapFrom(shuffle(seed+"#flasks", Stones))

	g.log("The game begins. The fool has been secretly chosen.")
	g.StartRound()
	return g, nil
}

func flaskMapFrom(stones []Stone) map[int]Stone {
	m := make(map[int]Stone, len(stones))
	for i, st := range stones {
		m[i+1] = st
	}
	return m
}

// StartRound opens a new round: applies a queued flask remap, reorders the
// seating from round 2 on (trailing players first), resets round state, deals
// the flask pool and, from round 3 on, draws and publishes the omen.
func (g *Game) StartRound() {
	if g.IsOver {
		return
	}

	g.Omen = NoStone

	if g.NextFlaskMap != nil {
		g.FlaskMap = g.NextFlaskMap
		g.NextFlaskMap = nil
	}

	if g.Round > 1 {
		prevIdx := make(map[string]int, len(g.Order))
		for i, id := range g.Order {
			prevIdx[id] = i
		}
		ids := make([]string, 0, len(g.Players))
		for _, p := range g.Players {
			ids = append(ids, p.ID)
		}
		sort.SliceStable(ids, func(a, b int) bool {
			sa, sb := g.Scores[ids[a]], g.Scores[ids[b]]
			if sa.Total() != sb.Total() {
				return sa.Total() < sb.Total()
			}
			if sa.Pub != sb.Pub {
				return sa.Pub < sb.Pub
			}
			return prevIdx[ids[a]] < prevIdx[ids[b]]
		})
		g.Order = ids
	}

	g.Flasks = make(map[int]Stone, len(g.FlaskMap))
	for no, st := range g.FlaskMap {
		g.Flasks[no] = st
	}

	g.RoundStartScores = make(map[string]Score, len(g.Scores))
	for id, s := range g.Scores {
		g.RoundStartScores[id] = s
	}

	g.Discarded = nil
	g.Picks = nil
	g.FirstHolder = make(map[Stone]string, len(Stones))
	g.Phase = PhaseSelect
	g.CastIdx = 0
	for id := range g.Hands {
		g.Hands[id] = NoStone
	}

	g.log("Round %d begins, flasks reset.", g.Round)

	if g.Round >= 3 {
		label := fmt.Sprintf("%s#omen#%d", g.Seed, g.Round)
		g.Omen = shuffle(label, Stones)[0]
		g.log("Omen: the %s stone is empowered this round.", g.Omen)
	}
}

// FoolPrank queues a fresh random flask mapping for the next round. Only the
// current fool-stone holder may use it, only in the cast phase, and only once
// per game. It deliberately leaves no public log entry.
func (g *Game) FoolPrank(playerID string) {
	if g.IsOver || g.TrickUsed || g.Phase != PhaseCast {
		return
	}
	if g.Hands[playerID] != Fool {
		return
	}
	label := fmt.Sprintf("%s#prank#%d", g.Seed, g.Round)
	g.NextFlaskMap = flaskMapFrom(shuffle(label, Stones))
	g.TrickUsed = true
}

func (g *Game) holderOf(st Stone) string {
	for _, p := range g.Players {
		if g.Hands[p.ID] == st {
			return p.ID
		}
	}
	return ""
}

func (g *Game) playerName(id string) string {
	for _, p := range g.Players {
		if p.ID == id {
			return p.Name
		}
	}
	return id
}

func (g *Game) addPub(id string, delta int) {
	s := g.Scores[id]
	s.Pub += delta
	g.Scores[id] = s
}

func (g *Game) addSec(id string, delta int) {
	s := g.Scores[id]
	s.Sec += delta
	g.Scores[id] = s
}

func (g *Game) log(format string, args ...any) {
	g.Logs = append(g.Logs, fmt.Sprintf(format, args...))
}

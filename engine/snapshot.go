package engine

import "encoding/json"

// Snapshot is the unit of resynchronization: a version stamp plus a value
// copy of the whole game. Receivers replace their view wholesale and drop
// anything whose version is not strictly newer than what they hold.
type Snapshot struct {
	Version uint64 `json:"version"`
	Game    *Game  `json:"game"`
}

// Encode and DecodeSnapshot are the one codec used for both the wire and any
// in-process copy that crosses an ownership boundary.
func (s Snapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	err := json.Unmarshal(data, &s)
	return s, err
}

// Snapshot captures the game under the given version.
func (g *Game) Snapshot(version uint64) Snapshot {
	return Snapshot{Version: version, Game: g.Clone()}
}

// Clone returns a deep value copy; mutating the copy never touches the
// original.
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	c := *g
	c.Players = append([]Player(nil), g.Players...)
	c.Order = append([]string(nil), g.Order...)
	c.Scores = cloneMap(g.Scores)
	c.Hands = cloneMap(g.Hands)
	c.Flasks = cloneMap(g.Flasks)
	c.Discarded = append([]int(nil), g.Discarded...)
	c.Picks = append([]PickRecord(nil), g.Picks...)
	c.FirstHolder = cloneMap(g.FirstHolder)
	c.Logs = append([]string(nil), g.Logs...)
	c.FinalRanks = append([]RankRow(nil), g.FinalRanks...)
	c.FlaskMap = cloneMap(g.FlaskMap)
	c.NextFlaskMap = cloneMap(g.NextFlaskMap)
	c.RoundStartScores = cloneMap(g.RoundStartScores)
	return &c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

package engine

// DiscardFlask removes one flask from the round's pool before any picking.
// Only the first player in order does this, exactly once per round; out-of
// -phase calls, repeat discards and unknown flask ids are silent no-ops.
func (g *Game) DiscardFlask(no int) {
	if g.IsOver || g.Phase != PhaseSelect {
		return
	}
	if len(g.Discarded) > 0 {
		return
	}
	if _, ok := g.Flasks[no]; !ok {
		return
	}

	delete(g.Flasks, no)
	g.Discarded = append(g.Discarded, no)
	first := g.playerName(g.Order[0])
	g.log("%s discarded flask %d.", first, no)
}

// PickFlask deals the flask's stone to the player whose turn it is. Picking
// is in seating order, one flask each, and cannot start before the discard.
// The first player to reveal a stone becomes its first holder for the round;
// revealing the fool stone first pays a secret point on the spot. After the
// fifth pick the single leftover flask is auto-discarded and the cast phase
// opens.
func (g *Game) PickFlask(no int) {
	if g.IsOver || g.Phase != PhaseSelect {
		return
	}
	stone, ok := g.Flasks[no]
	if !ok {
		return
	}

	turn := len(g.Picks)
	if turn == 0 && len(g.Discarded) == 0 {
		return
	}
	if turn >= len(g.Order) {
		return
	}

	playerID := g.Order[turn]
	g.Hands[playerID] = stone
	if g.FirstHolder[stone] == "" {
		g.FirstHolder[stone] = playerID
		if stone == Fool {
			inc := 1
			if g.Omen == Fool {
				inc = 2
			}
			g.addSec(playerID, inc)
		}
	}
	g.Picks = append(g.Picks, PickRecord{PlayerID: playerID, Flask: no, Stone: stone})
	delete(g.Flasks, no)

	g.log("%s picked flask %d.", g.playerName(playerID), no)

	if len(g.Picks) == NumPlayers {
		if len(g.Flasks) == 1 {
			for last := range g.Flasks {
				delete(g.Flasks, last)
				g.Discarded = append(g.Discarded, last)
				g.log("The last remaining flask %d was discarded automatically.", last)
			}
		}
		g.Phase = PhaseCast
		g.CastIdx = 0
		g.log("The cast phase begins.")
		g.log("The %s stone is up.", CastOrder[g.CastIdx])
	}
}

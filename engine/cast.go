package engine

import "sort"

// NextCast is the moderator's advance: it resolves the current stone without
// a show. Sage and fool apply their hidden effects; anything else is skipped
// outright. A skipped earth still pulls sage and fool through automatically,
// since neither leaves the holder any choice.
func (g *Game) NextCast() {
	if g.IsOver || g.Phase != PhaseCast {
		return
	}

	current := CastOrder[g.CastIdx]
	earthDone := false

	switch current {
	case Sage:
		g.resolveSageStep()
	case Fool:
		g.resolveFoolStep()
	default:
		g.log("The moderator skipped the %s stone.", current)
		if current == Earth {
			earthDone = true
		}
		g.CastIdx++
	}

	if earthDone {
		g.autoSageFool()
	} else if g.CastIdx < len(CastOrder) {
		g.log("The %s stone is up.", CastOrder[g.CastIdx])
	}

	g.closeRoundIfDone()
}

// CastStone is a holder's own move on the current step: "show" triggers the
// stone's effect, "skip" waives it. Out-of-turn stones, shows of the hidden
// stones and non-holders are rejected with a public log line and no state
// change. A rejected show does not advance the pointer.
func (g *Game) CastStone(playerID string, stone Stone, action CastAction, targetA, targetB string) {
	if g.IsOver || g.Phase != PhaseCast {
		return
	}

	current := CastOrder[g.CastIdx]
	if stone != current {
		g.log("It is the %s stone's turn, not %s.", current, stone)
		return
	}
	if (stone == Sage || stone == Fool) && action == ActionShow {
		g.log("The %s stone cannot be shown.", stone)
		return
	}
	if g.Hands[playerID] != stone {
		g.log("Someone who does not hold the %s stone tried to act; ignored.", stone)
		return
	}

	name := g.playerName(playerID)

	if action == ActionSkip {
		switch stone {
		case Sage:
			g.resolveSageStep()
		case Fool:
			g.resolveFoolStep()
		default:
			g.log("%s skipped the %s stone.", name, stone)
			g.CastIdx++
		}
	} else {
		switch stone {
		case Gold:
			inc := 2 + g.omenBonus(Gold)
			g.addPub(playerID, inc)
			g.log("%s showed the gold stone, +%d public.", name, inc)
			g.CastIdx++

		case Wood:
			inc := 1 + g.omenBonus(Wood)
			g.addPub(playerID, inc)
			if t, ok := g.Hands[targetA]; ok && targetA != playerID && t != NoStone && t != Fire {
				g.Hands[playerID], g.Hands[targetA] = t, Wood
			}
			g.log("%s showed the wood stone, +%d public (a hidden trade may have happened).", name, inc)
			g.CastIdx++

		case Water:
			stA, okA := g.Hands[targetA]
			stB, okB := g.Hands[targetB]
			if !okA || !okB || targetA == targetB || targetA == playerID || targetB == playerID {
				g.log("The water stone needs two distinct other players.")
				return
			}
			inc := 1 + g.omenBonus(Water)
			g.addPub(playerID, inc)
			g.Hands[targetA], g.Hands[targetB] = stB, stA
			g.log("%s showed the water stone, +%d public (two hands were quietly swapped).", name, inc)
			g.CastIdx++

		case Fire:
			t, ok := g.Hands[targetA]
			if !ok || targetA == playerID {
				g.log("%s showed the fire stone but named no valid target.", name)
				return
			}
			tname := g.playerName(targetA)
			success := t == Wood
			selfDelta := 1 + 2
			targetDelta := -2
			if !success {
				selfDelta = 1 - 1
				targetDelta = 1
			}
			if g.Omen == Fire {
				if success {
					selfDelta++
				} else {
					targetDelta++
				}
			}
			g.addPub(playerID, selfDelta)
			g.addPub(targetA, targetDelta)
			if success {
				g.log("%s burned %s: the attack lands (%+d / %+d public).", name, tname, selfDelta, targetDelta)
			} else {
				g.log("%s burned %s: the attack fizzles (%+d / %+d public).", name, tname, selfDelta, targetDelta)
			}
			g.CastIdx++

		case Earth:
			if g.FirstHolder[Earth] != playerID {
				g.log("%s tried to show the earth stone without being its first holder this round.", name)
				return
			}
			inc := 3 + g.omenBonus(Earth)
			g.addPub(playerID, inc)
			g.log("%s showed the earth stone, +%d public (first holder).", name, inc)
			g.CastIdx++
		}
	}

	if stone == Earth {
		g.autoSageFool()
	} else if g.CastIdx < len(CastOrder) {
		g.log("The %s stone is up.", CastOrder[g.CastIdx])
	}

	g.closeRoundIfDone()
}

func (g *Game) omenBonus(st Stone) int {
	if g.Omen == st {
		return 1
	}
	return 0
}

func (g *Game) resolveSageStep() {
	inc := 2 + g.omenBonus(Sage)
	if holder := g.holderOf(Sage); holder != "" {
		g.addSec(holder, inc)
	}
	g.log("The sage stone stays hidden; its holder gains %d secret.", inc)
	g.CastIdx++
}

func (g *Game) resolveFoolStep() {
	g.log("The fool stone stays hidden; its final holder will pay at round end.")
	g.CastIdx++
}

// autoSageFool resolves sage and fool without waiting for the moderator once
// earth is behind us. They carry no player-facing choice.
func (g *Game) autoSageFool() {
	for g.CastIdx < len(CastOrder) {
		switch CastOrder[g.CastIdx] {
		case Sage:
			g.log("The %s stone is up.", Sage)
			g.resolveSageStep()
		case Fool:
			g.log("The %s stone is up.", Fool)
			g.resolveFoolStep()
		default:
			return
		}
	}
}

// closeRoundIfDone fires once the pointer has walked all seven stones: the
// fool's end-of-round penalty, then either the terminal settlement or the
// next round.
func (g *Game) closeRoundIfDone() {
	if g.CastIdx < len(CastOrder) {
		return
	}

	if holder := g.holderOf(Fool); holder != "" {
		g.addSec(holder, -2)
	}
	g.log("Round %d cast complete.", g.Round)
	g.Phase = PhaseSelect
	g.Round++

	if g.anyAtThreshold() {
		g.finishGame()
		return
	}
	g.StartRound()
}

func (g *Game) anyAtThreshold() bool {
	for _, p := range g.Players {
		if g.Scores[p.ID].Pub >= g.Threshold {
			return true
		}
	}
	return false
}

func (g *Game) finishGame() {
	trigger := ""
	best := 0
	for _, p := range g.Players {
		if pub := g.Scores[p.ID].Pub; pub >= g.Threshold && (trigger == "" || pub > best) {
			trigger, best = p.ID, pub
		}
	}
	g.log("Endgame: %s reached %d public points (threshold %d).",
		g.playerName(trigger), best, g.Threshold)

	if sage := g.holderOf(Sage); sage != "" {
		g.addPub(sage, 2)
		g.log("Endgame: %s holds the sage stone, +2 public.", g.playerName(sage))
	} else {
		g.log("Endgame: nobody holds the sage stone.")
	}

	for _, p := range g.Players {
		if !p.IsFool {
			continue
		}
		if g.Hands[p.ID] == Fool {
			g.addPub(p.ID, 10)
			g.log("Endgame: %s is the fool and still holds the fool stone, +10 public.", p.Name)
		} else {
			g.addPub(p.ID, -5)
			g.log("Endgame: %s is the fool but lost the fool stone, -5 public.", p.Name)
		}
	}

	orderIdx := make(map[string]int, len(g.Order))
	for i, id := range g.Order {
		orderIdx[id] = i
	}

	rows := make([]RankRow, 0, len(g.Players))
	for _, p := range g.Players {
		s := g.Scores[p.ID]
		rows = append(rows, RankRow{
			PlayerID: p.ID,
			Name:     p.Name,
			Pub:      s.Pub,
			Sec:      s.Sec,
			Total:    s.Total(),
		})
	}
	sortRanks(rows, orderIdx)
	for i := range rows {
		rows[i].Place = i + 1
		if i < len(rewards) {
			rows[i].Reward = rewards[i]
		} else {
			rows[i].Reward = rewardDefault
		}
	}

	g.FinalRanks = rows
	g.IsOver = true
	g.log("Final ranking settled.")
}

func sortRanks(rows []RankRow, orderIdx map[string]int) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		if a.Pub != b.Pub {
			return a.Pub > b.Pub
		}
		// Ties fall to whoever sat later in the final round's order.
		return orderIdx[a.PlayerID] > orderIdx[b.PlayerID]
	})
}

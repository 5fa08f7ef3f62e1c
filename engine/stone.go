package engine

// Stone identifies one of the seven alchemy stone kinds.
type Stone string

const (
	Gold  Stone = "gold"
	Wood  Stone = "wood"
	Water Stone = "water"
	Fire  Stone = "fire"
	Earth Stone = "earth"
	Sage  Stone = "sage"
	Fool  Stone = "fool"

	// NoStone marks an empty hand or an absent omen.
	NoStone Stone = ""
)

// Stones lists every kind in flask-dealing order.
var Stones = []Stone{Gold, Wood, Water, Fire, Earth, Sage, Fool}

// CastOrder is the fixed resolution sequence walked each cast phase.
var CastOrder = [7]Stone{Gold, Wood, Water, Fire, Earth, Sage, Fool}

// Phase is the round state: players pick flasks, then stones resolve.
type Phase string

const (
	PhaseSelect Phase = "select"
	PhaseCast   Phase = "cast"
)

// CastAction is what a holder (or the moderator) does on a cast step.
type CastAction string

const (
	ActionShow CastAction = "show"
	ActionSkip CastAction = "skip"
)

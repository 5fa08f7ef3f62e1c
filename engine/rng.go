package engine

import "hash/fnv"

// rng is the game's fixed pseudo-random generator: splitmix64 seeded with the
// FNV-1a hash of a seed string. Every random decision in a game (seating,
// flask mapping, fool assignment, omen draw, trick remap) derives from the
// per-game seed plus a per-use label, so replaying a seed reproduces the game
// bit for bit. The algorithm is part of the protocol; do not swap it for a
// platform generator.
type rng struct {
	state uint64
}

func newRNG(seed string) *rng {
	h := fnv.New64a()
	h.Write([]byte(seed))
	return &rng{state: h.Sum64()}
}

func (r *rng) next() uint64 {
	r.state += 0x9e3779b97f4a7c15
	z := r.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// intn returns a value in [0, n). n must be positive.
func (r *rng) intn(n int) int {
	return int(r.next() % uint64(n))
}

// shuffle returns a Fisher-Yates permutation of items drawn from the labelled
// seed. The input slice is not modified.
func shuffle[T any](seed string, items []T) []T {
	r := newRNG(seed)
	out := make([]T, len(items))
	copy(out, items)
	for i := len(out) - 1; i > 0; i-- {
		j := r.intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

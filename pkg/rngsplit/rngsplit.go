// Package rngsplit implements the 32-bit splittable PRNG collaborator of
// SPEC_FULL §6: the core seeds one Rand per task, deterministically, from
// a single parent seed so that a single-node run and its distributed
// equivalent produce identical training-point orders.
package rngsplit

import (
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"
	"crypto/sha256"
)

// Rand is a small, fast xorshift32 generator. It is not cryptographically
// secure and must not be used for anything beyond reproducible training
// orders — exactly the original source's rg::Random32 contract.
type Rand struct {
	state uint32
}

// NewRand constructs a Rand from an explicit 32-bit seed. A zero seed is
// remapped to a fixed non-zero constant since xorshift32 has a fixed point
// at zero.
func NewRand(seed uint32) *Rand {
	if seed == 0 {
		seed = 0x9e3779b9
	}
	return &Rand{state: seed}
}

// next advances the generator and returns the raw 32-bit word.
func (r *Rand) next() uint32 {
	x := r.state
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	r.state = x
	return x
}

// NextUint32 returns a uniformly distributed 32-bit word.
func (r *Rand) NextUint32() uint32 { return r.next() }

// NextInt returns a uniformly distributed integer in [0, n). n must be > 0.
func (r *Rand) NextInt(n int) int {
	if n <= 0 {
		return 0
	}
	return int(r.next() % uint32(n))
}

// NextFloat64 returns a uniformly distributed float in [0, 1).
func (r *Rand) NextFloat64() float64 {
	return float64(r.next()) / float64(1<<32)
}

// DeriveTaskSeed derives a deterministic 32-bit seed for (rank, taskID)
// from a run-wide parent seed using HKDF-SHA256, so every node computes
// the same per-task seed without any coordination round.
func DeriveTaskSeed(parentSeed uint32, rank, taskID int) uint32 {
	var ikm [4]byte
	binary.BigEndian.PutUint32(ikm[:], parentSeed)

	info := make([]byte, 8)
	binary.BigEndian.PutUint32(info[0:4], uint32(rank))
	binary.BigEndian.PutUint32(info[4:8], uint32(taskID))

	hk := hkdf.New(sha256.New, ikm[:], nil, info)
	out := make([]byte, 4)
	if _, err := io.ReadFull(hk, out); err != nil {
		// hkdf over a fixed-size SHA-256 output never fails for a 4 byte
		// read; a failure here would indicate a broken io.Reader wiring.
		panic(err)
	}
	seed := binary.BigEndian.Uint32(out)
	if seed == 0 {
		seed = 1
	}
	return seed
}

// Split produces a new independent-looking Rand from r without advancing
// r's own sequence observably more than one step, used when a task needs a
// child generator (e.g. per-subtask WOR shuffles) deterministically tied
// to its parent's current state.
func (r *Rand) Split() *Rand {
	return NewRand(r.next() ^ 0x6a09e667)
}

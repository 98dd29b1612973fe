// Package dmatrix implements the distributed matrix and block-placement
// layer of SPEC_FULL §4.3: a blocks1 x blocks2 description of a logical
// matrix whose blocks live in per-node environment stores, with offset and
// location tables.
package dmatrix

import (
	"fmt"

	"github.com/dsgdpp/mf/pkg/env"
)

// DistributedMatrix describes a logical size1 x size2 matrix split into
// Blocks1 x Blocks2 blocks, each owned by exactly one rank (Location) and
// named canonically as Name ⊕ "[b1,b2]".
type DistributedMatrix struct {
	Name    string
	Size1   int
	Size2   int
	Blocks1 int
	Blocks2 int

	Offsets1 []int // length Blocks1+1, strictly increasing, Offsets1[0]=0
	Offsets2 []int // length Blocks2+1

	Location [][]int // [b1][b2] -> rank
}

// computeDefaultOffsets implements offsets[b] = floor(b*size/blocks), with
// the last block absorbing the remainder, per SPEC_FULL §4.3.
func computeDefaultOffsets(size, blocks int) []int {
	offsets := make([]int, blocks+1)
	for b := 0; b <= blocks; b++ {
		offsets[b] = b * size / blocks
	}
	offsets[blocks] = size
	return offsets
}

// computeDefaultLocations places blocks so that, if partitionByRow, every
// row of the block grid lives entirely on one rank (otherwise every
// column does), distributing row (or column) groups as evenly as possible
// across worldSize ranks.
func computeDefaultLocations(worldSize, blocks1, blocks2 int, partitionByRow bool) [][]int {
	loc := make([][]int, blocks1)
	for i := range loc {
		loc[i] = make([]int, blocks2)
	}
	groups := blocks1
	if !partitionByRow {
		groups = blocks2
	}
	groupRank := make([]int, groups)
	for g := 0; g < groups; g++ {
		groupRank[g] = g * worldSize / groups
	}
	for b1 := 0; b1 < blocks1; b1++ {
		for b2 := 0; b2 < blocks2; b2++ {
			if partitionByRow {
				loc[b1][b2] = groupRank[b1]
			} else {
				loc[b1][b2] = groupRank[b2]
			}
		}
	}
	return loc
}

// New builds a DistributedMatrix with default offsets and locations.
func New(name string, size1, size2, blocks1, blocks2, worldSize int, partitionByRow bool) *DistributedMatrix {
	return &DistributedMatrix{
		Name:     name,
		Size1:    size1,
		Size2:    size2,
		Blocks1:  blocks1,
		Blocks2:  blocks2,
		Offsets1: computeDefaultOffsets(size1, blocks1),
		Offsets2: computeDefaultOffsets(size2, blocks2),
		Location: computeDefaultLocations(worldSize, blocks1, blocks2, partitionByRow),
	}
}

// BlockName returns the canonical environment entry name for block (b1,b2).
func (d *DistributedMatrix) BlockName(b1, b2 int) string {
	return fmt.Sprintf("%s[%d,%d]", d.Name, b1, b2)
}

// BlockSize1 returns the row count of block b1.
func (d *DistributedMatrix) BlockSize1(b1 int) int { return d.Offsets1[b1+1] - d.Offsets1[b1] }

// BlockSize2 returns the column count of block b2.
func (d *DistributedMatrix) BlockSize2(b2 int) int { return d.Offsets2[b2+1] - d.Offsets2[b2] }

// Block returns the RemoteVar handle for block (b1,b2).
func (d *DistributedMatrix) Block(b1, b2 int) env.RemoteVar {
	return env.RemoteVar{Rank: d.Location[b1][b2], Name: d.BlockName(b1, b2)}
}

// Create allocates an empty block of the right size in each target
// environment by invoking create on registry for every (b1,b2). The value
// a block holds (COO triples, or a Dense factor slice) is supplied by
// makeEmpty, so Create works for both V's sparse blocks and W/H's dense
// blocks.
func Create[T any](d *DistributedMatrix, reg *env.Registry, makeEmpty func(b1, b2, rows, cols int) T, policy env.DeletionPolicy) error {
	for b1 := 0; b1 < d.Blocks1; b1++ {
		for b2 := 0; b2 < d.Blocks2; b2++ {
			rank := d.Location[b1][b2]
			s := reg.Local(rank)
			if s == nil {
				continue // owned by a remote process; nothing to do locally
			}
			v := makeEmpty(b1, b2, d.BlockSize1(b1), d.BlockSize2(b2))
			if err := env.Create(s, d.BlockName(b1, b2), v, policy); err != nil {
				return err
			}
		}
	}
	return nil
}

// Erase removes every block's environment entry.
func Erase(d *DistributedMatrix, reg *env.Registry) error {
	for b1 := 0; b1 < d.Blocks1; b1++ {
		for b2 := 0; b2 < d.Blocks2; b2++ {
			rank := d.Location[b1][b2]
			s := reg.Local(rank)
			if s == nil {
				continue
			}
			if err := env.Erase(s, d.BlockName(b1, b2)); err != nil {
				return err
			}
		}
	}
	return nil
}

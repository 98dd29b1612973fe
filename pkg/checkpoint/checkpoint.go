// Package checkpoint persists W/H blocks to a local LevelDB store
// (syndtr/goleveldb) so a long factorization run can resume after a
// rank restarts without replaying every prior epoch.
package checkpoint

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	mferrors "github.com/dsgdpp/mf/pkg/errors"
)

// Store wraps a LevelDB handle keyed by "<epoch>/<matrix>/<block1>/<block2>".
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if absent) the LevelDB store at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, mferrors.NewIOError("checkpoint: open leveldb store", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func blockKey(epoch int, matrix string, b1, b2 int) []byte {
	return []byte(fmt.Sprintf("%010d/%s/%08d/%08d", epoch, matrix, b1, b2))
}

// PutBlock writes a dense row-major block as raw float64 bytes.
func (s *Store) PutBlock(epoch int, matrix string, b1, b2 int, data []float64) error {
	buf := make([]byte, 8*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	if err := s.db.Put(blockKey(epoch, matrix, b1, b2), buf, nil); err != nil {
		return mferrors.NewIOError("checkpoint: put block", err)
	}
	return nil
}

// GetBlock reads back a block written by PutBlock.
func (s *Store) GetBlock(epoch int, matrix string, b1, b2 int) ([]float64, error) {
	buf, err := s.db.Get(blockKey(epoch, matrix, b1, b2), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, mferrors.NewIOError("checkpoint: block not found", err)
		}
		return nil, mferrors.NewIOError("checkpoint: get block", err)
	}
	out := make([]float64, len(buf)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out, nil
}

// BlockCID computes a content ID for a block's serialized bytes, letting a
// trace reader compare independently-written block checksums across ranks
// without reading the block back (see mftrace.Entry.CheckpointCID).
func BlockCID(data []float64) (string, error) {
	buf := make([]byte, 8*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	mh, err := multihash.Sum(buf, multihash.SHA2_256, -1)
	if err != nil {
		return "", mferrors.NewIOError("checkpoint: hashing block", err)
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}

// LatestEpoch scans the store's keys for the highest epoch with at least
// one persisted block, used to resume a run after restart.
func (s *Store) LatestEpoch() (int, bool, error) {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	found := false
	best := -1
	for iter.Next() {
		var epoch int
		if _, err := fmt.Sscanf(string(iter.Key()), "%010d/", &epoch); err == nil {
			if epoch > best {
				best = epoch
			}
			found = true
		}
	}
	if err := iter.Error(); err != nil {
		return 0, false, mferrors.NewIOError("checkpoint: iterate store", err)
	}
	return best, found, nil
}

// Package entropy provides the deterministic pseudo-random source used by
// world genesis and agent spawn placement.
//
// Every stochastic choice in the engine must be replayable: resolving the
// same action stream twice from the same snapshot has to reproduce the
// same world (see the replay contract in internal/persistence). A stateful
// RNG can't give that guarantee across process restarts, so the only
// randomness source anywhere in the engine is a pure hash of its inputs.
package entropy

import (
	"crypto/sha256"
	"encoding/binary"
)

// StableUnit derives a float64 in [0, 1) from seed. Same seed, same value,
// forever — this is what makes tile genesis and spawn placement
// replayable purely from an event log, with no RNG state to restore.
func StableUnit(seed string) float64 {
	sum := sha256.Sum256([]byte(seed))
	n := binary.BigEndian.Uint64(sum[:8])
	return float64(n%1_000_000) / 1_000_000.0
}

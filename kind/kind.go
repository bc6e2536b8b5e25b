// Package kind provides a lightweight type identification system using bit-packed uint64 values.
// A Kind stands in for a Go type wherever a map needs a type as its key: state types in a
// state machine, event types in a dispatcher. Each Kind carries its own 16 bit id in the
// lowest bits and up to three base ids above it, so a Kind can answer "is this a kind of X"
// without reflection.
package kind

import "sync/atomic"

const (
	length   = 64                  // Total bits in a Kind value
	idLength = 16                  // Bits per type ID
	depthMax = length / idLength   // Maximum inheritance depth (4 levels, own id included)
	idMask   = (1 << idLength) - 1 // Mask for extracting a single ID
	basesMax = depthMax - 1        // Base ids that fit above the own id
	null     = Kind(0)             // Reserved, never returned by Make
	overflow = Kind(idMask) + 1    // First id that no longer fits
)

// Kind is a 64-bit unsigned integer that encodes type identity and inheritance.
type Kind = uint64

// n is the global counter for generating unique type IDs.
var n atomic.Uint64

// ID returns the kind's own id without its bases.
func ID(k Kind) Kind {
	return k & idMask
}

// Bases extracts the base ids packed above the kind's own id.
// Zero entries mark unused levels.
func Bases(k Kind) [basesMax]Kind {
	var bases [basesMax]Kind
	for i := 1; i < depthMax; i++ {
		bases[i-1] = (k >> (idLength * i)) & idMask
	}
	return bases
}

// Make creates a new Kind with a unique ID, optionally inheriting from base kinds.
// Base ids, and the bases of those bases, are packed above the new id in order and
// deduplicated. Levels beyond the fourth are dropped. Make is safe for concurrent use
// and panics once the 16 bit id space is exhausted.
func Make(bases ...Kind) Kind {
	id := n.Add(1)
	if id >= overflow {
		panic("kind: id space exhausted")
	}
	seen := make(map[Kind]struct{}, basesMax)
	level := 0
	for _, base := range bases {
		for j := 0; j < depthMax && level < basesMax; j++ {
			baseID := (base >> (idLength * j)) & idMask
			if baseID == null {
				break
			}
			if _, ok := seen[baseID]; ok {
				continue
			}
			seen[baseID] = struct{}{}
			level++
			id |= baseID << (idLength * level)
		}
	}
	return id
}

// Is reports whether k is, or inherits from, any of the provided kinds.
// Only the own id of each candidate is compared, so Is(k, k) is always true
// and Is(derived, base) is true for every base passed to Make.
//
//go:inline
func Is(k Kind, bases ...Kind) bool {
	if k == null {
		return false
	}
	for _, base := range bases {
		baseID := base & idMask
		if baseID == null {
			continue
		}
		for i := 0; i < depthMax; i++ {
			if (k>>(idLength*i))&idMask == baseID {
				return true
			}
		}
	}
	return false
}

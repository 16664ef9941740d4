package shard

import "unicode/utf16"

const (
	stableHashSeed       int32 = 11
	stableHashMultiplier int32 = 397
)

// StableHash computes a deterministic 32-bit hash of text that does not
// depend on the process, platform or random seeding. It folds the UTF-16
// code units of text starting from 11, computing hash*397+unit at every
// step. Overflow wraps around.
//
// Routing decisions that were persisted by earlier deployments depend on
// this exact algorithm, so it must not be changed.
//
// Invalid UTF-8 sequences are folded as U+FFFD.
func StableHash(text string) int32 {
	hash := stableHashSeed
	for _, unit := range utf16.Encode([]rune(text)) {
		hash = hash*stableHashMultiplier + int32(unit)
	}
	return hash
}

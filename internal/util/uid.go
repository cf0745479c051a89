package util

import (
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// uidRoot is the DICOM root for UUID-derived UIDs (PS3.5 B.2).
const uidRoot = "2.25."

// UIDGenerator produces DICOM UIDs. Deterministic generators derive each UID
// from a seed and the caller's name parts, so the same inputs always yield the
// same UID; random generators ignore the parts.
type UIDGenerator struct {
	seed   string
	random bool
}

// NewUIDGenerator returns a deterministic generator seeded with seed.
func NewUIDGenerator(seed string) *UIDGenerator {
	return &UIDGenerator{seed: seed}
}

// NewRandomUIDGenerator returns a generator producing fresh UIDs on every call.
func NewRandomUIDGenerator() *UIDGenerator {
	return &UIDGenerator{random: true}
}

// UID returns a UID for the given name parts.
func (g *UIDGenerator) UID(parts ...string) string {
	if g.random {
		return uuidToUID(uuid.New())
	}
	name := g.seed + "/" + strings.Join(parts, "/")
	return uuidToUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)))
}

func uuidToUID(u uuid.UUID) string {
	return uidRoot + new(big.Int).SetBytes(u[:]).String()
}

package game

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

const serverSeedBytes = 32

// SeedCommitment pairs a secret server seed with its public hash.
type SeedCommitment struct {
	ServerSeed     string
	ServerSeedHash string
}

// SeedManager mints server seeds and their commitments.
type SeedManager struct {
	random io.Reader
}

// NewSeedManager returns a SeedManager reading from random, or crypto/rand when nil.
func NewSeedManager(random io.Reader) *SeedManager {
	if random == nil {
		random = rand.Reader
	}
	return &SeedManager{random: random}
}

// Create draws a 256-bit seed and commits to it.
func (manager *SeedManager) Create() (SeedCommitment, error) {
	raw := make([]byte, serverSeedBytes)
	if _, err := io.ReadFull(manager.random, raw); err != nil {
		return SeedCommitment{}, fmt.Errorf("read server seed: %w", err)
	}
	seed := hex.EncodeToString(raw)
	return SeedCommitment{
		ServerSeed:     seed,
		ServerSeedHash: CommitSeed(seed),
	}, nil
}

// CommitSeed returns hex(SHA256(seed)) over the seed's string bytes.
func CommitSeed(serverSeed string) string {
	digest := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(digest[:])
}

// VerifySeed reports whether hash is the commitment of serverSeed.
func VerifySeed(serverSeed string, hash string) bool {
	expected := CommitSeed(serverSeed)
	provided := strings.ToLower(strings.TrimSpace(hash))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}

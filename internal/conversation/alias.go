package conversation

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

const (
	// DefaultAliasLength is the number of random bytes per alias; the alias
	// itself is the hex encoding, twice as many characters.
	DefaultAliasLength = 6
	// DefaultAliasMaxAttempts bounds the retry loop when minting a unique
	// alias.
	DefaultAliasMaxAttempts = 100
)

// AliasGenerator mints the short random hex tokens that stand in for
// addresses inside the encrypted channel. Length and MaxAttempts are policy,
// not implementation details, so tests can shrink the alias space and force
// exhaustion.
type AliasGenerator struct {
	Length      int
	MaxAttempts int

	rand io.Reader
}

// NewAliasGenerator returns a generator with the given policy. Non-positive
// values select the defaults.
func NewAliasGenerator(length, maxAttempts int) *AliasGenerator {
	if length <= 0 {
		length = DefaultAliasLength
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultAliasMaxAttempts
	}
	return &AliasGenerator{Length: length, MaxAttempts: maxAttempts, rand: rand.Reader}
}

// Generate mints an alias not currently taken. taken is consulted for every
// candidate; after MaxAttempts collisions the generator gives up with
// ErrAliasSpaceExhausted.
func (g *AliasGenerator) Generate(taken func(string) bool) (string, error) {
	for attempt := 0; attempt < g.MaxAttempts; attempt++ {
		buf := make([]byte, g.Length)
		if _, err := io.ReadFull(g.rand, buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}

		alias := hex.EncodeToString(buf)
		if !taken(alias) {
			return alias, nil
		}
	}

	return "", fmt.Errorf("%w: gave up after %d attempts", ErrAliasSpaceExhausted, g.MaxAttempts)
}

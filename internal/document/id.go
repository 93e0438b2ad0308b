package document

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Generator issues process-wide unique document identifiers: 8 hex digits of
// the current Unix time in seconds followed by 16 hex digits of an 8-byte
// counter seeded with cryptographically random bytes at construction.
type Generator struct {
	mu      sync.Mutex
	counter [8]byte
}

// NewGenerator seeds the counter from crypto/rand.
func NewGenerator() (*Generator, error) {
	g := &Generator{}
	if _, err := rand.Read(g.counter[:]); err != nil {
		return nil, fmt.Errorf("failed to seed identifier counter: %w", err)
	}
	return g, nil
}

// Next returns a fresh 24-hex-character identifier. The counter increments
// byte by byte, carrying on overflow, under the lock so no two calls ever
// observe the same value.
func (g *Generator) Next() string {
	g.mu.Lock()
	for i := range g.counter {
		g.counter[i]++
		if g.counter[i] != 0 {
			break
		}
	}
	suffix := hex.EncodeToString(g.counter[:])
	g.mu.Unlock()

	return fmt.Sprintf("%08x%s", uint32(time.Now().Unix()), suffix)
}

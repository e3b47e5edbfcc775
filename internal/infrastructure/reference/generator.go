// Package reference generates the human-readable references printed on
// refunds and credit notes, e.g. REF-20260314-7QK2MZ.
package reference

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	RefundPrefix     = "REF"
	CreditNotePrefix = "CN"

	suffixLength = 6
	dateLayout   = "20060102"
)

// Generator builds references from the tail of a monotonic ULID, so
// references issued by one process in the same millisecond never repeat.
// Uniqueness across processes is enforced by the database.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

// NewGenerator creates a generator reading randomness from crypto/rand
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(rand.Reader)
}

// NewGeneratorWithEntropy creates a generator on a custom entropy source
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: ulid.Monotonic(entropy, 1)}
}

// RefundReference returns a REF-YYYYMMDD-XXXXXX reference
func (g *Generator) RefundReference(now time.Time) string {
	return g.next(RefundPrefix, now)
}

// CreditNoteReference returns a CN-YYYYMMDD-XXXXXX reference
func (g *Generator) CreditNoteReference(now time.Time) string {
	return g.next(CreditNotePrefix, now)
}

func (g *Generator) next(prefix string, now time.Time) string {
	g.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(now), g.entropy)
	g.mu.Unlock()

	s := id.String()
	return prefix + "-" + now.UTC().Format(dateLayout) + "-" + s[len(s)-suffixLength:]
}

// SystemClock returns the current UTC time
type SystemClock struct{}

// Now returns time.Now in UTC
func (SystemClock) Now() time.Time { return time.Now().UTC() }

package store

import (
	"crypto/rand"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// IDScheme selects how new document IDs are generated.
type IDScheme string

const (
	// IDSchemeUUID generates 32-character hex UUIDs (random, unordered).
	IDSchemeUUID IDScheme = "uuid"

	// IDSchemeULID generates monotonic ULIDs, so the id view lists documents in creation order.
	IDSchemeULID IDScheme = "ulid"
)

// NewIDFunc returns a generator for the given scheme. Unknown schemes use UUIDs.
func NewIDFunc(scheme IDScheme) func() string {
	if scheme == IDSchemeULID {
		g := &ulidGen{entropy: ulid.Monotonic(rand.Reader, 0)}
		return g.next
	}
	return newUUID
}

func newUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

type ulidGen struct {
	mu      sync.Mutex
	entropy io.Reader
}

func (g *ulidGen) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}

// Package orders provides client order ID generation and trade lifecycle
// tracking for broker order submission.
package orders

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxClientOrderIDLength is the maximum length accepted by the broker API
	MaxClientOrderIDLength = 48

	// EnginePrefix identifies orders placed by this engine
	EnginePrefix = "ENG"
)

// Errors for client order ID operations
var (
	ErrClientOrderIDTooLong = errors.New("client order ID exceeds maximum length")
	ErrInvalidClientOrderID = errors.New("invalid client order ID format")
)

// ClientOrderID is a parsed engine order ID.
// Format: ENG-[DDMMM]-[NNNNN]-[8CHAR] (e.g., "ENG-02SEP-00001-a3f7c2e9")
type ClientOrderID struct {
	Date     string
	Sequence int
	Suffix   string
}

// Generator mints client order IDs with a per-day sequence. The uuid suffix
// keeps IDs unique across engine instances sharing a broker account.
type Generator struct {
	mu       sync.Mutex
	timezone *time.Location
	day      string
	sequence int
}

// NewGenerator creates a Generator. If timezone is nil, UTC is used.
func NewGenerator(timezone *time.Location) *Generator {
	if timezone == nil {
		timezone = time.UTC
	}
	return &Generator{timezone: timezone}
}

// Generate mints a new client order ID. The sequence resets at local midnight.
func (g *Generator) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().In(g.timezone)
	day := now.Format("20060102")
	if day != g.day {
		g.day = day
		g.sequence = 0
	}
	g.sequence++

	dateStr := strings.ToUpper(now.Format("02Jan"))
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	id := fmt.Sprintf("%s-%s-%05d-%s", EnginePrefix, dateStr, g.sequence, suffix)

	if len(id) > MaxClientOrderIDLength {
		return "", fmt.Errorf("%w: %q is %d characters", ErrClientOrderIDTooLong, id, len(id))
	}
	return id, nil
}

// Parse decomposes an engine client order ID. Returns
// ErrInvalidClientOrderID for IDs this engine did not mint.
func Parse(id string) (*ClientOrderID, error) {
	parts := strings.Split(id, "-")
	if len(parts) != 4 || parts[0] != EnginePrefix {
		return nil, fmt.Errorf("%w: %q", ErrInvalidClientOrderID, id)
	}
	if len(parts[1]) != 5 || len(parts[2]) != 5 || len(parts[3]) != 8 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidClientOrderID, id)
	}
	seq, err := strconv.Atoi(parts[2])
	if err != nil || seq < 1 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidClientOrderID, id)
	}
	return &ClientOrderID{Date: parts[1], Sequence: seq, Suffix: parts[3]}, nil
}

// IsEngineOrder reports whether an ID was minted by this engine. Orders
// placed outside the engine fail reconciliation attribution, not parsing.
func IsEngineOrder(id string) bool {
	_, err := Parse(id)
	return err == nil
}

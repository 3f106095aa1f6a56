package sources

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/ymzkio/rule40-screener/internal/domain"
)

// SymbolSource produces the symbols of one external listing. Adapters fail
// independently: a fetch error in one source never affects another.
type SymbolSource interface {
	// Fetch retrieves and normalizes the full symbol list.
	Fetch(ctx context.Context) ([]domain.Symbol, error)

	// IsAvailable is a cheap probe. It never returns an error; adapters
	// behind unreliable upstreams may answer optimistically and leave
	// failure handling to Fetch.
	IsAvailable(ctx context.Context) bool

	// Name is the human-readable source name recorded on each symbol.
	Name() string
}

// Registry maps source identifiers to adapters. Adding a source is a
// registry entry, not an orchestrator change.
type Registry struct {
	sources map[string]SymbolSource
}

// NewRegistry creates an empty source registry
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]SymbolSource)}
}

// Register adds an adapter under an identifier, replacing any previous one.
func (r *Registry) Register(id string, src SymbolSource) {
	r.sources[id] = src
}

// Get looks up an adapter by identifier.
func (r *Registry) Get(id string) (SymbolSource, bool) {
	src, ok := r.sources[id]
	return src, ok
}

// IDs returns the registered identifiers, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.sources))
	for id := range r.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9\-.]+$`)

// NormalizeSymbol applies the common ticker normalization rules:
// trim and uppercase, share-class suffix rewrite (BRK.B -> BRK-B), and the
// Tokyo exchange suffix for bare 4-digit codes (7203 -> 7203.T).
// The function is idempotent.
func NormalizeSymbol(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))

	if strings.HasSuffix(s, ".B") {
		s = s[:len(s)-2] + "-B"
	} else if strings.HasSuffix(s, ".A") {
		s = s[:len(s)-2] + "-A"
	}

	if len(s) == 4 && isDigits(s) {
		s += ".T"
	}

	return s
}

// ValidateSymbol reports whether a normalized ticker is acceptable:
// non-empty, at most 10 characters, charset [A-Z0-9-.].
func ValidateSymbol(s string) bool {
	if s == "" || len(s) > 10 {
		return false
	}
	return symbolPattern.MatchString(s)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

package extractor

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Registry maps asset types to extractors and records the parent-type table
// used to walk an asset type's ancestry.
//
// A Registry is populated once at startup and then frozen. After Freeze it
// is immutable and safe to read from any goroutine without locking.
type Registry struct {
	mu         sync.Mutex
	frozen     bool
	parents    map[string]string
	extractors map[string]Extractor
	versions   map[string]string // memoized at Freeze
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		parents:    make(map[string]string),
		extractors: make(map[string]Extractor),
	}
}

// RegisterType declares typeName with an optional parent ("" for a root type)
func (r *Registry) RegisterType(typeName, parent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}
	if typeName == "" {
		return fmt.Errorf("type name cannot be empty")
	}
	if typeName == parent {
		return fmt.Errorf("type %s cannot be its own parent", typeName)
	}
	for p := parent; p != ""; p = r.parents[p] {
		if p == typeName {
			return fmt.Errorf("type %s would form an inheritance cycle", typeName)
		}
	}
	r.parents[typeName] = parent
	return nil
}

// Register binds ex to typeName, replacing any previous extractor
func (r *Registry) Register(typeName string, ex Extractor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}
	if ex == nil {
		return fmt.Errorf("extractor for %s cannot be nil", typeName)
	}
	if _, ok := r.parents[typeName]; !ok {
		r.parents[typeName] = ""
	}
	r.extractors[typeName] = ex
	return nil
}

// Freeze computes every version string and makes the registry read-only
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return
	}
	r.versions = make(map[string]string, len(r.parents))
	for typeName := range r.parents {
		r.versions[typeName] = r.versionString(typeName, make(map[string]bool))
	}
	r.frozen = true
}

// Frozen reports whether Freeze has been called
func (r *Registry) Frozen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frozen
}

// ancestry returns typeName followed by its ancestors, most-derived first
func (r *Registry) ancestry(typeName string) []string {
	var chain []string
	seen := make(map[string]bool)
	for t := typeName; t != "" && !seen[t]; t = r.parents[t] {
		seen[t] = true
		chain = append(chain, t)
	}
	return chain
}

// ExtractorsFor returns the extractors registered on typeName and its
// ancestors, most-derived first
func (r *Registry) ExtractorsFor(typeName string) []Extractor {
	var out []Extractor
	for _, t := range r.ancestry(typeName) {
		if ex, ok := r.extractors[t]; ok {
			out = append(out, ex)
		}
	}
	return out
}

// ExtractorFor returns the nearest extractor in typeName's ancestry. A type
// with its own extractor never falls through to an ancestor's.
func (r *Registry) ExtractorFor(typeName string) (Extractor, bool) {
	for _, t := range r.ancestry(typeName) {
		if ex, ok := r.extractors[t]; ok {
			return ex, true
		}
	}
	return nil, false
}

// Indexable reports whether any extractor is reachable through typeName's ancestry
func (r *Registry) Indexable(typeName string) bool {
	return r.VersionString(typeName) != ""
}

// VersionString concatenates name and version of every extractor that
// affects typeName's output, including nested asset types recursively.
// Unknown or unindexable types yield "".
func (r *Registry) VersionString(typeName string) string {
	if r.versions != nil {
		if v, ok := r.versions[typeName]; ok {
			return v
		}
	}
	// Types never declared still inherit nothing; walk directly.
	return r.versionString(typeName, make(map[string]bool))
}

func (r *Registry) versionString(typeName string, visited map[string]bool) string {
	var parts []string
	for _, t := range r.ancestry(typeName) {
		ex, ok := r.extractors[t]
		if !ok || visited[t] {
			continue
		}
		visited[t] = true
		parts = append(parts, sanitize(ex.Name())+"_"+strconv.Itoa(ex.Version()))
		for _, nested := range ex.NestedAssetTypes() {
			if v := r.versionString(nested, visited); v != "" {
				parts = append(parts, v)
			}
		}
	}
	return strings.Join(parts, "_")
}

// sanitize keeps cache keys ASCII and free of separators other than '_'
func sanitize(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteRune(c)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
)

// HashLength is the number of hex characters kept from the path digest.
const HashLength = 12

// Normalize canonicalizes a workspace root so the same workspace always
// hashes the same way: absolute, cleaned, no trailing separator, lower-case.
func Normalize(root string) string {
	root = strings.TrimSpace(root)
	if root == "" {
		return ""
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	root = filepath.Clean(root)
	for len(root) > 1 && strings.HasSuffix(root, string(filepath.Separator)) {
		root = strings.TrimSuffix(root, string(filepath.Separator))
	}
	return strings.ToLower(root)
}

// Hash returns the 12-hex-char workspace hash used in command file names.
func Hash(root string) string {
	sum := sha256.Sum256([]byte(Normalize(root)))
	return hex.EncodeToString(sum[:])[:HashLength]
}

// IsHash reports whether s has the shape of a workspace hash.
func IsHash(s string) bool {
	if len(s) != HashLength {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

type ownedSet struct {
	roots  map[string]string // hash -> root as given
	hashes map[string]struct{}
}

// Registry is the set of workspaces this process serves. Readers never
// block on Replace; each Replace swaps in a fresh set.
type Registry struct {
	set atomic.Pointer[ownedSet]
}

// NewRegistry creates a registry owning roots.
func NewRegistry(roots ...string) *Registry {
	r := &Registry{}
	r.Replace(roots)
	return r
}

// Replace recomputes the owned set from roots.
func (r *Registry) Replace(roots []string) {
	next := &ownedSet{
		roots:  make(map[string]string, len(roots)),
		hashes: make(map[string]struct{}, len(roots)),
	}
	for _, root := range roots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		h := Hash(root)
		next.roots[h] = root
		next.hashes[h] = struct{}{}
	}
	r.set.Store(next)
}

func (r *Registry) load() *ownedSet {
	if s := r.set.Load(); s != nil {
		return s
	}
	return &ownedSet{}
}

// Owns reports whether root is one of this process's workspaces.
func (r *Registry) Owns(root string) bool {
	return r.OwnsHash(Hash(root))
}

// OwnsHash reports whether a workspace hash belongs to this process.
func (r *Registry) OwnsHash(hash string) bool {
	_, ok := r.load().hashes[hash]
	return ok
}

// Roots returns the owned workspace roots, sorted.
func (r *Registry) Roots() []string {
	s := r.load()
	out := make([]string, 0, len(s.roots))
	for _, root := range s.roots {
		out = append(out, root)
	}
	sort.Strings(out)
	return out
}

// Hashes returns the owned workspace hashes, sorted.
func (r *Registry) Hashes() []string {
	s := r.load()
	out := make([]string, 0, len(s.hashes))
	for h := range s.hashes {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

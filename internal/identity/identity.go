// Package identity resolves in-game player names to persistent identities.
//
// The only fully trusted resolution path is in-game name → hardware address
// (from a per-session identity manifest) → registered identity. Names that
// never resolve get a deterministic provisional identity so their stats
// accumulate consistently until a real address link appears.
package identity

import (
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// dedicatedServerNames are exact (lowercased) names that are the stats host,
// not a player.
var dedicatedServerNames = map[string]struct{}{
	"statsdedi": {},
	"dedi":      {},
	"dedicated": {},
	"server":    {},
}

// IsDedicatedServer reports whether a name belongs to the dedicated server
// rather than a real player. Short names containing "dedi" are caught too,
// since hosts get renamed per session.
func IsDedicatedServer(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if _, ok := dedicatedServerNames[n]; ok {
		return true
	}
	return strings.Contains(n, "dedi") && len(n) <= 15
}

// NormalizeAddress canonicalizes a hardware address to lowercase with no
// separators: "AA:BB:CC:DD:EE:FF" and "aa-bb-cc-dd-ee-ff" both become
// "aabbccddeeff".
func NormalizeAddress(addr string) string {
	r := strings.NewReplacer(":", "", "-", "", " ", "")
	return strings.ToLower(r.Replace(strings.TrimSpace(addr)))
}

// ProvisionalID derives a stable placeholder identity ID from a name. The
// same unresolved name always maps to the same ID, across runs and machines,
// so repeated appearances accumulate on one identity.
func ProvisionalID(name string) string {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(name))))
	return fmt.Sprintf("%d", h.Sum64()%1_000_000_000_000_000_000)
}

// stripSymbols removes everything but letters, digits and spaces. Used to
// match names that carry game-specific symbol glyphs.
func stripSymbols(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Strategy is one resolution method. Strategies are evaluated in priority
// order; the first hit wins.
type Strategy interface {
	Name() string
	Resolve(rawName string) (id string, ok bool)
}

// OverrideStrategy is a small hardcoded table for names whose characters
// defeat normal string comparison (private-use-area glyphs and the like).
// TODO: retire once aliases for the affected players are registered; this is
// an escape hatch, not a general mechanism.
type OverrideStrategy struct {
	Table map[string]string // raw or lowered name → identity ID
}

func (s OverrideStrategy) Name() string { return "override" }

func (s OverrideStrategy) Resolve(rawName string) (string, bool) {
	raw := strings.TrimSpace(rawName)
	lower := strings.ToLower(raw)
	for _, key := range []string{raw, lower, stripSymbols(lower), strings.ReplaceAll(stripSymbols(lower), " ", "")} {
		if id, ok := s.Table[key]; ok {
			return id, true
		}
	}
	return "", false
}

// AddressStrategy resolves name → hardware address → identity, using the
// manifest covering the match's session plus the global address index.
type AddressStrategy struct {
	NameToAddress map[string]string // lowercased in-game name → normalized address
	AddressToID   map[string]string
}

func (s AddressStrategy) Name() string { return "address" }

func (s AddressStrategy) Resolve(rawName string) (string, bool) {
	addr, ok := s.NameToAddress[strings.ToLower(strings.TrimSpace(rawName))]
	if !ok {
		return "", false
	}
	id, ok := s.AddressToID[addr]
	return id, ok
}

// ProfileStrategy resolves through registered profile names, display names
// and operator-linked aliases. Legacy-tolerant mode only.
type ProfileStrategy struct {
	Lookup map[string]string // lowercased profile/alias → identity ID
}

func (s ProfileStrategy) Name() string { return "profile" }

func (s ProfileStrategy) Resolve(rawName string) (string, bool) {
	id, ok := s.Lookup[strings.ToLower(strings.TrimSpace(rawName))]
	return id, ok
}

// DisplayNameStrategy is the last-resort case-insensitive match against
// registered display names. Legacy-tolerant mode only.
type DisplayNameStrategy struct {
	Registry *Registry
}

func (s DisplayNameStrategy) Name() string { return "display-name" }

func (s DisplayNameStrategy) Resolve(rawName string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(rawName))
	for _, id := range s.Registry.IDs() {
		if strings.ToLower(s.Registry.Get(id).DisplayName) == lower {
			return id, true
		}
	}
	return "", false
}

// Resolver evaluates an ordered list of strategies. It is a pure function
// over the supplied lookup tables: it never creates identities itself.
type Resolver struct {
	strategies []Strategy
}

// NewResolver builds a resolver over the given strategies, evaluated in
// order.
func NewResolver(strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies}
}

// Resolve returns the identity ID for a raw in-game name, or ok=false when
// no strategy matched. Dedicated-server names never resolve.
func (r *Resolver) Resolve(rawName string) (id string, strategy string, ok bool) {
	if IsDedicatedServer(rawName) {
		return "", "", false
	}
	for _, s := range r.strategies {
		if id, ok := s.Resolve(rawName); ok {
			return id, s.Name(), true
		}
	}
	return "", "", false
}

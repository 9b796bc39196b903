package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/carnagereport/statspipe/internal/model"
)

// registryEntry is the on-disk shape of one registered player in
// players.json. The registry file is owned by the companion bot; this
// pipeline reads profile data and writes back ranking state only.
type registryEntry struct {
	DisplayName  string   `json:"display_name"`
	StatsProfile string   `json:"stats_profile,omitempty"`
	Addresses    []string `json:"mac_addresses,omitempty"`
	Aliases      []string `json:"aliases,omitempty"`
}

// Registry owns all persistent identities for a run: registered players
// loaded from the registry file plus provisional identities created for
// unresolved names. Lookup tables are built once; conflicts are surfaced,
// never silently merged.
type Registry struct {
	identities map[string]*model.PersistentIdentity
	addrToID   map[string]string
	conflicts  []AddressConflict
	log        zerolog.Logger
}

// AddressConflict records a hardware address claimed by two identities. The
// first-registered claim wins deterministically; the conflict is kept for
// the operator summary.
type AddressConflict struct {
	Address string
	HeldBy  string
	Claimed string
}

// NewRegistry returns an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		identities: make(map[string]*model.PersistentIdentity),
		addrToID:   make(map[string]string),
		log:        log,
	}
}

// LoadRegistry reads the persistent player registry. A missing or unreadable
// file is not fatal: it yields an empty registry and a full-rebuild-style
// first run.
func LoadRegistry(path string, log zerolog.Logger) (*Registry, error) {
	reg := NewRegistry(log)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", path).Msg("player registry missing, starting empty")
			return reg, nil
		}
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}
	var entries map[string]registryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode registry %s: %w", path, err)
	}
	for id, e := range entries {
		ident := &model.PersistentIdentity{
			ID:          id,
			DisplayName: e.DisplayName,
			Rank:        1,
			HighestRank: 1,
		}
		for _, a := range e.Addresses {
			if n := NormalizeAddress(a); n != "" {
				ident.Addresses = append(ident.Addresses, n)
			}
		}
		if e.StatsProfile != "" {
			ident.AddAlias(e.StatsProfile)
		}
		for _, a := range e.Aliases {
			ident.AddAlias(a)
		}
		reg.Register(ident)
	}
	return reg, nil
}

// Register adds an identity and claims its addresses. A contested address
// stays with its first claimant and the conflict is recorded.
func (r *Registry) Register(ident *model.PersistentIdentity) {
	r.identities[ident.ID] = ident
	for _, addr := range ident.Addresses {
		if held, ok := r.addrToID[addr]; ok && held != ident.ID {
			r.conflicts = append(r.conflicts, AddressConflict{Address: addr, HeldBy: held, Claimed: ident.ID})
			r.log.Warn().
				Str("address", addr).
				Str("held_by", held).
				Str("claimed_by", ident.ID).
				Msg("hardware address claimed by two identities, keeping first registration")
			continue
		}
		r.addrToID[addr] = ident.ID
	}
}

// CreateProvisional creates (or returns the existing) provisional identity
// for an unresolved name.
func (r *Registry) CreateProvisional(name string) *model.PersistentIdentity {
	id := ProvisionalID(name)
	if existing, ok := r.identities[id]; ok {
		existing.AddAlias(name)
		return existing
	}
	ident := &model.PersistentIdentity{
		ID:          id,
		Provisional: true,
		Rank:        1,
		HighestRank: 1,
	}
	ident.AddAlias(name)
	r.identities[id] = ident
	return ident
}

// Get returns the identity with the given ID, or nil.
func (r *Registry) Get(id string) *model.PersistentIdentity {
	return r.identities[id]
}

// IDs returns all identity IDs in stable sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.identities))
	for id := range r.identities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Identities returns the live identity map, keyed by ID. Callers treat it
// as read-only except through the registry's own operations.
func (r *Registry) Identities() map[string]*model.PersistentIdentity {
	return r.identities
}

// Len returns the number of identities.
func (r *Registry) Len() int { return len(r.identities) }

// Conflicts returns the address conflicts found while building the index.
func (r *Registry) Conflicts() []AddressConflict { return r.conflicts }

// AddressIndex returns the address → identity lookup table.
func (r *Registry) AddressIndex() map[string]string { return r.addrToID }

// ProfileIndex builds the lowercased profile/display-name/alias → identity
// lookup used by the legacy-tolerant resolution strategies.
func (r *Registry) ProfileIndex() map[string]string {
	idx := make(map[string]string)
	for _, id := range r.IDs() {
		ident := r.identities[id]
		if ident.DisplayName != "" {
			idx[strings.ToLower(ident.DisplayName)] = id
		}
		for _, a := range ident.Aliases {
			idx[strings.ToLower(a)] = id
		}
	}
	return idx
}

// MergeInto folds a provisional identity's accumulated counters into a real
// identity and removes the provisional record. Stats transfer by summation
// so nothing accumulated under the placeholder is lost.
func (r *Registry) MergeInto(provisionalID, realID string) error {
	prov := r.identities[provisionalID]
	real := r.identities[realID]
	if prov == nil || real == nil {
		return fmt.Errorf("merge %s into %s: identity not found", provisionalID, realID)
	}
	if !prov.Provisional {
		return fmt.Errorf("merge %s into %s: source is not provisional", provisionalID, realID)
	}

	real.Kills += prov.Kills
	real.Deaths += prov.Deaths
	real.Assists += prov.Assists
	real.Headshots += prov.Headshots
	real.TotalGames += prov.TotalGames
	real.Wins += prov.Wins
	real.Losses += prov.Losses
	real.SeriesWins += prov.SeriesWins
	real.SeriesLosses += prov.SeriesLosses
	real.TotalSeries += prov.TotalSeries

	for playlist, ps := range prov.Playlists {
		dst := real.Standing(playlist)
		dst.XP += ps.XP
		dst.Wins += ps.Wins
		dst.Losses += ps.Losses
		dst.Games += ps.Games
		if ps.HighestRank > dst.HighestRank {
			dst.HighestRank = ps.HighestRank
		}
	}
	for _, a := range prov.Aliases {
		real.AddAlias(a)
	}

	delete(r.identities, provisionalID)
	r.log.Info().
		Str("provisional", provisionalID).
		Str("into", realID).
		Msg("merged provisional identity")
	return nil
}

// ResetStandings zeroes every identity's ranking state for a full rebuild.
// Profile data (names, addresses, aliases) is untouched.
func (r *Registry) ResetStandings() {
	for _, ident := range r.identities {
		ident.Playlists = nil
		ident.Kills = 0
		ident.Deaths = 0
		ident.Assists = 0
		ident.Headshots = 0
		ident.TotalGames = 0
		ident.Wins = 0
		ident.Losses = 0
		ident.XP = 0
		ident.Rank = 1
		ident.HighestRank = 1
		ident.SeriesWins = 0
		ident.SeriesLosses = 0
		ident.TotalSeries = 0
	}
}

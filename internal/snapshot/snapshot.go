// Package snapshot owns the on-disk JSON contracts: the processed-state
// ledger that enables incremental runs, and the output files consumed by
// the bot and the website. All writes go through an atomic
// write-to-temp-then-rename so a concurrent reader never observes a
// partial file.
package snapshot

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carnagereport/statspipe/internal/model"
)

// ProcessedState is the ledger from the previous run. Games maps source
// filename to its playlist assignment ("" for unranked); PlayerState is the
// full standings snapshot keyed by identity ID.
type ProcessedState struct {
	RunID       string `json:"run_id"`
	GeneratedAt string `json:"generated_at"`

	Games         map[string]string `json:"games"`
	OverridesHash string            `json:"overrides_hash"`

	PlayerState map[string]*model.PersistentIdentity `json:"player_state"`
	NameToID    map[string]string                    `json:"player_name_to_id"`

	History map[string][]model.HistoryEntry `json:"rank_history,omitempty"`
}

func emptyState() *ProcessedState {
	return &ProcessedState{
		Games:       map[string]string{},
		PlayerState: map[string]*model.PersistentIdentity{},
		NameToID:    map[string]string{},
	}
}

// LoadState reads the prior ledger. A missing or unreadable ledger is not
// an error: it means "no prior state" and forces a full rebuild.
func LoadState(path string, log zerolog.Logger) *ProcessedState {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Info().Str("path", path).Msg("no prior processed state, starting empty")
		return emptyState()
	}
	var s ProcessedState
	if err := json.Unmarshal(data, &s); err != nil {
		log.Warn().Str("path", path).Err(err).Msg("processed state unreadable, starting empty")
		return emptyState()
	}
	if s.Games == nil {
		s.Games = map[string]string{}
	}
	if s.PlayerState == nil {
		s.PlayerState = map[string]*model.PersistentIdentity{}
	}
	if s.NameToID == nil {
		s.NameToID = map[string]string{}
	}
	// IDs live in the map keys on disk.
	for id, ident := range s.PlayerState {
		ident.ID = id
	}
	return &s
}

// NewState builds a fresh ledger stamped with a new run ID.
func NewState(overridesHash string) *ProcessedState {
	s := emptyState()
	s.RunID = uuid.NewString()
	s.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	s.OverridesHash = overridesHash
	return s
}

// OverridesHash fingerprints the manual override inputs so drift between
// runs can be detected. Map iteration is canonicalized by the JSON encoder.
func OverridesHash(forcedPlaylists map[string]string, forcedUnranked map[string]bool) string {
	payload := struct {
		Playlists map[string]string `json:"playlists"`
		Unranked  map[string]bool   `json:"unranked"`
	}{forcedPlaylists, forcedUnranked}
	data, _ := json.Marshal(payload)
	return fmt.Sprintf("%x", md5.Sum(data))
}

// PlaylistChange records a historical match whose assignment moved.
type PlaylistChange struct {
	Old string
	New string
}

// Changes is the result of comparing the current file set and
// classifications against the prior ledger.
type Changes struct {
	NewFiles      []string
	Reassigned    map[string]PlaylistChange
	OverrideDrift bool
}

// FullRebuild reports whether incremental mode is invalid: any historical
// reassignment or manual-override drift poisons saved XP state, because XP
// transitions depend on match order and rank at the time.
func (c Changes) FullRebuild() bool {
	return len(c.Reassigned) > 0 || c.OverrideDrift
}

// DetectChanges compares the freshly computed classification of every
// discovered file against the ledger. current maps filename to playlist
// ("" for unranked) and must cover the full file set.
func (s *ProcessedState) DetectChanges(current map[string]string, overridesHash string) Changes {
	c := Changes{
		Reassigned:    map[string]PlaylistChange{},
		OverrideDrift: s.OverridesHash != overridesHash,
	}
	for file, playlist := range current {
		old, seen := s.Games[file]
		if !seen {
			c.NewFiles = append(c.NewFiles, file)
			continue
		}
		if old != playlist {
			c.Reassigned[file] = PlaylistChange{Old: old, New: playlist}
		}
	}
	return c
}

// StickyPlaylist applies ledger stickiness: a match that was ranked in a
// prior run keeps its playlist when this run classified it unranked. This
// protects ranked history when a transient input (a missing session file)
// would otherwise demote old games. Callers must apply it before change
// detection, and skip it when the manual overrides drifted; a kept
// assignment is not a reassignment.
func (s *ProcessedState) StickyPlaylist(file, playlist string) string {
	if playlist == "" {
		if old, ok := s.Games[file]; ok && old != "" {
			return old
		}
	}
	return playlist
}

// WriteJSON writes v as indented JSON via a temp file in the target
// directory followed by a rename.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// PlaylistSlug converts a playlist name to its output-file prefix
// ("MLG 4v4" to "mlg_4v4").
func PlaylistSlug(playlist string) string {
	return strings.ReplaceAll(strings.ToLower(playlist), " ", "_")
}

// Writer emits the full output set for one run into a directory.
type Writer struct {
	Dir string
	Log zerolog.Logger
}

// Standing is one row of a per-playlist stats file.
type Standing struct {
	DisplayName string `json:"display_name"`
	model.PlaylistStanding
}

// WriteRanks writes ranks.json: every identity's full record keyed by ID.
func (w Writer) WriteRanks(identities map[string]*model.PersistentIdentity) error {
	return WriteJSON(filepath.Join(w.Dir, "ranks.json"), identities)
}

// WritePlaylist writes the per-playlist chronological match log and
// standings snapshot (<slug>_matches.json, <slug>_stats.json).
func (w Writer) WritePlaylist(playlist string, matches []*model.MatchRecord, identities map[string]*model.PersistentIdentity) error {
	slug := PlaylistSlug(playlist)
	if err := WriteJSON(filepath.Join(w.Dir, slug+"_matches.json"), matches); err != nil {
		return err
	}
	standings := make(map[string]Standing)
	for id, ident := range identities {
		s, ok := ident.Playlists[playlist]
		if !ok {
			continue
		}
		standings[id] = Standing{DisplayName: ident.DisplayName, PlaylistStanding: *s}
	}
	return WriteJSON(filepath.Join(w.Dir, slug+"_stats.json"), standings)
}

// WriteRankHistory writes rankhistory.json keyed by identity ID.
func (w Writer) WriteRankHistory(history map[string][]model.HistoryEntry) error {
	return WriteJSON(filepath.Join(w.Dir, "rankhistory.json"), history)
}

// WriteSeries writes series.json: playlist name to its series list.
func (w Writer) WriteSeries(byPlaylist map[string][]model.Series) error {
	return WriteJSON(filepath.Join(w.Dir, "series.json"), byPlaylist)
}

// WriteEmblems writes emblems.json: lowercased in-game name to emblem URL.
func (w Writer) WriteEmblems(emblems map[string]string) error {
	return WriteJSON(filepath.Join(w.Dir, "emblems.json"), emblems)
}

// WriteCustomGames writes customgames.json: the unranked match log.
func (w Writer) WriteCustomGames(matches []*model.MatchRecord) error {
	return WriteJSON(filepath.Join(w.Dir, "customgames.json"), matches)
}

// WriteState persists the ledger itself. This must be the final write of a
// run: a failed run leaves the previous ledger untouched.
func (w Writer) WriteState(path string, s *ProcessedState) error {
	return WriteJSON(path, s)
}

// Package pipeline orchestrates one batch run: discover export files,
// resolve identities, classify playlists, replay the ranking state machine,
// detect series, and write the snapshot outputs.
//
// A run either completes and atomically replaces the snapshot files, or
// fails and leaves the previous snapshot untouched.
package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/carnagereport/statspipe/internal/archive"
	"github.com/carnagereport/statspipe/internal/classify"
	"github.com/carnagereport/statspipe/internal/config"
	"github.com/carnagereport/statspipe/internal/identity"
	"github.com/carnagereport/statspipe/internal/model"
	"github.com/carnagereport/statspipe/internal/replay"
	"github.com/carnagereport/statspipe/internal/report"
	"github.com/carnagereport/statspipe/internal/series"
	"github.com/carnagereport/statspipe/internal/sheet"
	"github.com/carnagereport/statspipe/internal/snapshot"
)

// nameOverrides maps raw names whose characters defeat normal comparison
// (private-use-area glyphs) directly to identity IDs.
var nameOverrides = map[string]string{
	"isis rinsy isis":                "210187331066396672",
	"isisrinsyisis":                  "210187331066396672",
	"\ue101\ue100\ue101\ue103\ue075": "210187331066396672",
}

const stateFileName = "processed_state.json"

// Pipeline runs the batch resolution process.
type Pipeline struct {
	cfg *config.Config
	xp  *config.XPConfig
	log zerolog.Logger
}

// Result summarizes one completed run for the caller.
type Result struct {
	RunID       string
	FullRebuild bool
	Files       int
	Ranked      int
	NewFiles    int
	Identities  int
	Series      map[string][]model.Series
	Warnings    []report.Warning
}

// New loads and validates the XP configuration up front; an invalid XP
// config aborts before any snapshot is touched.
func New(cfg *config.Config, log zerolog.Logger) (*Pipeline, error) {
	xp, err := config.LoadXP(cfg.XPConfigFile)
	if err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg, xp: xp, log: log}, nil
}

// Run executes the full batch. Per-file problems are downgraded to
// warnings; only unrecoverable conditions return an error.
func (p *Pipeline) Run() (*Result, error) {
	var warnings []report.Warning
	warn := func(kind, file, detail string) {
		warnings = append(warnings, report.Warning{Kind: kind, File: file, Detail: detail})
	}

	overrides, err := p.loadOverrides()
	if err != nil {
		return nil, err
	}
	overridesHash := snapshot.OverridesHash(overrides.ForcedPlaylists, overrides.ForcedUnranked)

	statePath := filepath.Join(p.cfg.OutputDir, stateFileName)
	state := snapshot.LoadState(statePath, p.log)

	registry, err := identity.LoadRegistry(p.cfg.RegistryFile, p.log)
	if err != nil {
		return nil, err
	}

	matchFiles, manifests, err := p.discoverFiles()
	if err != nil {
		return nil, err
	}
	p.log.Info().Int("matches", len(matchFiles)).Int("manifests", len(manifests)).Msg("discovered export files")

	matches := p.parseMatches(matchFiles, warn)
	nameToID := p.resolveIdentities(matches, manifests, registry, warn)

	classifier, err := p.buildClassifier(overrides, nameToID)
	if err != nil {
		return nil, err
	}

	// Classify everything, with ledger stickiness folded in before change
	// detection: a previously ranked match that a transient input (a lost
	// session file) demotes to unranked keeps its old playlist and is not
	// counted as a reassignment. Stickiness is suspended when the manual
	// overrides drifted, so removing an override takes effect.
	overrideDrift := len(state.Games) > 0 && state.OverridesHash != overridesHash
	current := make(map[string]string, len(matches))
	for _, m := range matches {
		playlist := classifier.Classify(m)
		if !overrideDrift {
			if kept := state.StickyPlaylist(m.SourceFile, playlist); kept != playlist {
				p.log.Info().Str("file", m.SourceFile).Str("playlist", kept).
					Msg("keeping prior ledger assignment for demoted match")
				playlist = kept
			}
		}
		current[m.SourceFile] = playlist
	}

	changes := state.DetectChanges(current, overridesHash)
	fullRebuild := changes.FullRebuild() || len(state.Games) == 0
	if changes.OverrideDrift && len(state.Games) > 0 {
		p.log.Info().Msg("manual overrides changed since last run, forcing full rebuild")
	}
	for file, ch := range changes.Reassigned {
		p.log.Info().Str("file", file).Str("old", ch.Old).Str("new", ch.New).
			Msg("playlist reassignment detected, forcing full rebuild")
	}

	for _, m := range matches {
		m.Playlist = current[m.SourceFile]
		if m.Playlist == "" && m.DurationSeconds < classify.MinDurationSeconds && !overrides.ForcedUnranked[m.SourceFile] {
			warn("short-game", m.SourceFile, fmt.Sprintf("%ds, below the %ds floor", m.DurationSeconds, classify.MinDurationSeconds))
		}
	}

	if fullRebuild {
		registry.ResetStandings()
	} else {
		p.seedFromState(state, registry)
	}

	engine := replay.NewEngine(p.xp, registry, p.log)
	if !fullRebuild {
		engine.SeedHistory(state.History)
	}

	ranked := filterRanked(matches)
	replay.SortMatches(ranked)

	toReplay := ranked
	newSet := make(map[string]bool, len(changes.NewFiles))
	for _, f := range changes.NewFiles {
		newSet[f] = true
	}
	if !fullRebuild {
		toReplay = nil
		for _, m := range ranked {
			if newSet[m.SourceFile] {
				toReplay = append(toReplay, m)
			}
		}
	}
	p.log.Info().Bool("full_rebuild", fullRebuild).Int("ranked", len(ranked)).
		Int("replaying", len(toReplay)).Msg("replaying ranked matches")
	engine.Replay(toReplay)

	seriesByPlaylist := p.detectSeries(ranked, nameToID, registry)

	for _, c := range registry.Conflicts() {
		warn("address-conflict", "", fmt.Sprintf("%s held by %s, also claimed by %s", c.Address, c.HeldBy, c.Claimed))
	}

	runID, err := p.writeOutputs(state, statePath, overridesHash, matches, ranked, registry, engine, seriesByPlaylist, nameToID)
	if err != nil {
		return nil, err
	}
	if err := p.writeArchive(matches, registry); err != nil {
		// The JSON contract is already safely written; a broken archive is
		// an operator warning, not a failed run.
		warn("archive", p.cfg.ArchivePath, err.Error())
	}

	return &Result{
		RunID:       runID,
		FullRebuild: fullRebuild,
		Files:       len(matches),
		Ranked:      len(ranked),
		NewFiles:    len(changes.NewFiles),
		Identities:  registry.Len(),
		Series:      seriesByPlaylist,
		Warnings:    warnings,
	}, nil
}

// discoverFiles walks the stats directories for match workbooks and the
// identity directory for session manifests. The first occurrence of a
// filename wins; later directories do not shadow earlier ones.
func (p *Pipeline) discoverFiles() (matchFiles []string, manifests []string, err error) {
	seen := make(map[string]bool)
	for _, dir := range p.cfg.StatsDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, nil, fmt.Errorf("read stats dir %s: %w", dir, err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".xlsx") || sheet.IsManifest(name) {
				continue
			}
			if seen[name] {
				continue
			}
			seen[name] = true
			matchFiles = append(matchFiles, filepath.Join(dir, name))
		}
	}

	entries, err := os.ReadDir(p.cfg.IdentityDir)
	if err != nil {
		p.log.Warn().Str("dir", p.cfg.IdentityDir).Err(err).Msg("identity dir unreadable, resolution will rely on fallbacks")
	} else {
		for _, e := range entries {
			if !e.IsDir() && sheet.IsManifest(e.Name()) {
				manifests = append(manifests, filepath.Join(p.cfg.IdentityDir, e.Name()))
			}
		}
		sort.Strings(manifests)
	}
	sort.Strings(matchFiles)
	return matchFiles, manifests, nil
}

func (p *Pipeline) parseMatches(files []string, warn func(kind, file, detail string)) []*model.MatchRecord {
	matches := make([]*model.MatchRecord, 0, len(files))
	for _, path := range files {
		m, err := sheet.ParseMatchFile(path)
		if err != nil {
			p.log.Warn().Str("file", path).Err(err).Msg("skipping unparseable match file")
			warn("parse", filepath.Base(path), err.Error())
			continue
		}
		matches = append(matches, m)
	}
	return matches
}

// resolveIdentities annotates every player row with its identity ID,
// creating provisional identities for names no strategy could place.
// Returns the lowercased name → identity ID map built along the way.
func (p *Pipeline) resolveIdentities(matches []*model.MatchRecord, manifests []string, registry *identity.Registry, warn func(kind, file, detail string)) map[string]string {
	manifestCache := make(map[string]map[string]string)
	loadManifest := func(path string) map[string]string {
		if path == "" {
			return nil
		}
		if cached, ok := manifestCache[path]; ok {
			return cached
		}
		m, err := sheet.ParseIdentityManifest(path)
		if err != nil {
			p.log.Warn().Str("file", path).Err(err).Msg("identity manifest unreadable")
			m = nil
		}
		manifestCache[path] = m
		return m
	}

	nameToID := make(map[string]string)
	unresolved := make(map[string]bool)
	merged := make(map[string]string)

	for _, m := range matches {
		nameToAddr := loadManifest(sheet.SelectManifest(m.SourceFile, manifests))

		strategies := []identity.Strategy{
			identity.OverrideStrategy{Table: nameOverrides},
			identity.AddressStrategy{NameToAddress: nameToAddr, AddressToID: registry.AddressIndex()},
		}
		if p.cfg.LegacyNameFallback {
			strategies = append(strategies,
				identity.ProfileStrategy{Lookup: registry.ProfileIndex()},
				identity.DisplayNameStrategy{Registry: registry},
			)
		}
		resolver := identity.NewResolver(strategies...)

		for i := range m.Players {
			row := &m.Players[i]
			id, strategy, ok := resolver.Resolve(row.Name)
			if ok {
				row.IdentityID = id
				nameToID[strings.ToLower(row.Name)] = id
				p.mergeProvisional(registry, row.Name, id, merged)
				if strategy != "address" {
					p.log.Debug().Str("name", row.Name).Str("strategy", strategy).Msg("resolved via fallback strategy")
				}
				continue
			}
			prov := registry.CreateProvisional(row.Name)
			row.IdentityID = prov.ID
			nameToID[strings.ToLower(row.Name)] = prov.ID
			if !unresolved[strings.ToLower(row.Name)] {
				unresolved[strings.ToLower(row.Name)] = true
				warn("unresolved", m.SourceFile, fmt.Sprintf("%q has no address link, tracking provisionally", row.Name))
			}
		}
	}

	// A name can surface with a provisional ID in matches processed before
	// the manifest that resolves it. Point those earlier rows, and any stale
	// name mappings, at the real identity so every game replays under it.
	if len(merged) > 0 {
		for _, m := range matches {
			for i := range m.Players {
				if real, ok := merged[m.Players[i].IdentityID]; ok {
					m.Players[i].IdentityID = real
				}
			}
		}
		for name, id := range nameToID {
			if real, ok := merged[id]; ok {
				nameToID[name] = real
			}
		}
	}
	return nameToID
}

// mergeProvisional folds a previously provisional identity into the real
// one the name now resolves to, so nothing accumulated under the
// placeholder is lost. Successful merges are recorded in merged so the
// caller can redirect rows already annotated with the placeholder ID.
func (p *Pipeline) mergeProvisional(registry *identity.Registry, name, realID string, merged map[string]string) {
	provID := identity.ProvisionalID(name)
	if provID == realID {
		return
	}
	if prov := registry.Get(provID); prov != nil && prov.Provisional {
		if err := registry.MergeInto(provID, realID); err != nil {
			p.log.Warn().Str("name", name).Err(err).Msg("provisional merge failed")
			return
		}
		merged[provID] = realID
	}
}

func (p *Pipeline) buildClassifier(overrides classify.Overrides, nameToID map[string]string) (*classify.Classifier, error) {
	var strategy classify.Strategy = classify.Structural{}
	if p.cfg.ClassifierStrategy == "session" {
		sessions, err := p.loadSessions()
		if err != nil {
			return nil, err
		}
		strategy = classify.SessionCorroborated{
			Sessions:  sessions,
			UTCOffset: time.Duration(p.cfg.SessionUTCOffsetHours) * time.Hour,
			ResolveID: func(name string) string { return nameToID[strings.ToLower(name)] },
		}
	}
	return classify.New(overrides, strategy, p.log), nil
}

func (p *Pipeline) loadSessions() ([]model.SchedulerSession, error) {
	data, err := os.ReadFile(p.cfg.SessionsFile)
	if err != nil {
		return nil, fmt.Errorf("session strategy requires a sessions file: %w", err)
	}
	var sessions []model.SchedulerSession
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("decode sessions %s: %w", p.cfg.SessionsFile, err)
	}
	for i := range sessions {
		sessions[i].Start = model.ParseTimestamp(sessions[i].StartRaw)
		sessions[i].End = model.ParseTimestamp(sessions[i].EndRaw)
	}
	return sessions, nil
}

// loadOverrides reads the manual per-file override inputs. Missing files
// mean no overrides. The unranked file accepts either a filename array or
// a filename→bool object.
func (p *Pipeline) loadOverrides() (classify.Overrides, error) {
	o := classify.Overrides{
		ForcedPlaylists: map[string]string{},
		ForcedUnranked:  map[string]bool{},
	}

	if data, err := os.ReadFile(p.cfg.ManualPlaylistsFile); err == nil {
		if err := json.Unmarshal(data, &o.ForcedPlaylists); err != nil {
			return o, fmt.Errorf("decode %s: %w", p.cfg.ManualPlaylistsFile, err)
		}
	}

	data, err := os.ReadFile(p.cfg.ManualUnrankedFile)
	if err != nil {
		return o, nil
	}
	var names []string
	if err := json.Unmarshal(data, &names); err == nil {
		for _, n := range names {
			o.ForcedUnranked[n] = true
		}
		return o, nil
	}
	if err := json.Unmarshal(data, &o.ForcedUnranked); err != nil {
		return o, fmt.Errorf("decode %s: %w", p.cfg.ManualUnrankedFile, err)
	}
	return o, nil
}

// seedFromState restores standings from the prior ledger for an incremental
// run. Identities unknown to the registry file (provisional ones) are
// re-registered from the saved state.
func (p *Pipeline) seedFromState(state *snapshot.ProcessedState, registry *identity.Registry) {
	for id, saved := range state.PlayerState {
		ident := registry.Get(id)
		if ident == nil {
			registry.Register(saved)
			continue
		}
		ident.Playlists = saved.Playlists
		ident.Kills = saved.Kills
		ident.Deaths = saved.Deaths
		ident.Assists = saved.Assists
		ident.Headshots = saved.Headshots
		ident.TotalGames = saved.TotalGames
		ident.Wins = saved.Wins
		ident.Losses = saved.Losses
		ident.XP = saved.XP
		ident.Rank = saved.Rank
		ident.HighestRank = saved.HighestRank
		ident.SeriesWins = saved.SeriesWins
		ident.SeriesLosses = saved.SeriesLosses
		ident.TotalSeries = saved.TotalSeries
		for _, a := range saved.Aliases {
			ident.AddAlias(a)
		}
	}
}

func filterRanked(matches []*model.MatchRecord) []*model.MatchRecord {
	var ranked []*model.MatchRecord
	for _, m := range matches {
		if m.Playlist != "" {
			ranked = append(ranked, m)
		}
	}
	return ranked
}

// detectSeries runs the detector per playlist and folds the tallies into
// identity records. Series tallies are recomputed from scratch each run, so
// reset them first to keep incremental runs from double counting.
func (p *Pipeline) detectSeries(ranked []*model.MatchRecord, nameToID map[string]string, registry *identity.Registry) map[string][]model.Series {
	for _, ident := range registry.Identities() {
		ident.SeriesWins, ident.SeriesLosses, ident.TotalSeries = 0, 0, 0
	}

	byPlaylist := make(map[string][]*model.MatchRecord)
	for _, m := range ranked {
		byPlaylist[m.Playlist] = append(byPlaylist[m.Playlist], m)
	}

	resolve := func(name string) string { return nameToID[strings.ToLower(name)] }
	out := make(map[string][]model.Series)
	for _, playlist := range model.AllPlaylists {
		ms, ok := byPlaylist[playlist]
		if !ok {
			continue
		}
		detected := series.Detect(playlist, ms)
		series.ApplyTallies(detected, resolve, registry.Get)
		out[playlist] = detected
	}
	return out
}

// writeOutputs emits every JSON artifact. The processed-state ledger is
// written last so a failed run never records progress it did not persist.
func (p *Pipeline) writeOutputs(prior *snapshot.ProcessedState, statePath, overridesHash string, matches, ranked []*model.MatchRecord, registry *identity.Registry, engine *replay.Engine, seriesByPlaylist map[string][]model.Series, nameToID map[string]string) (string, error) {
	if err := os.MkdirAll(p.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	w := snapshot.Writer{Dir: p.cfg.OutputDir, Log: p.log}
	identities := registry.Identities()

	if err := w.WriteRanks(identities); err != nil {
		return "", err
	}
	byPlaylist := make(map[string][]*model.MatchRecord)
	for _, m := range ranked {
		byPlaylist[m.Playlist] = append(byPlaylist[m.Playlist], m)
	}
	for playlist, ms := range byPlaylist {
		if err := w.WritePlaylist(playlist, ms, identities); err != nil {
			return "", err
		}
	}
	if err := w.WriteRankHistory(engine.History()); err != nil {
		return "", err
	}
	if err := w.WriteSeries(seriesByPlaylist); err != nil {
		return "", err
	}
	if err := w.WriteEmblems(collectEmblems(matches)); err != nil {
		return "", err
	}

	var custom []*model.MatchRecord
	for _, m := range matches {
		if m.Playlist == "" {
			custom = append(custom, m)
		}
	}
	if err := w.WriteCustomGames(custom); err != nil {
		return "", err
	}

	next := snapshot.NewState(overridesHash)
	for _, m := range matches {
		next.Games[m.SourceFile] = m.Playlist
	}
	// Carry forward ledger entries for files absent from this run's input
	// set, so a temporarily missing directory does not erase history.
	for file, playlist := range prior.Games {
		if _, ok := next.Games[file]; !ok {
			next.Games[file] = playlist
		}
	}
	next.PlayerState = identities
	next.NameToID = nameToID
	next.History = engine.History()
	if err := w.WriteState(statePath, next); err != nil {
		return "", err
	}
	return next.RunID, nil
}

func (p *Pipeline) writeArchive(matches []*model.MatchRecord, registry *identity.Registry) error {
	db, err := archive.Open(p.cfg.ArchivePath)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.ReplaceAll(matches, registry.Identities())
}

// collectEmblems maps each lowercased in-game name to its most recently
// seen emblem URL.
func collectEmblems(matches []*model.MatchRecord) map[string]string {
	emblems := make(map[string]string)
	for _, m := range matches {
		for i := range m.Detailed {
			d := &m.Detailed[i]
			if d.EmblemURL != "" {
				emblems[strings.ToLower(d.Player)] = d.EmblemURL
			}
		}
	}
	return emblems
}

package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/carnagereport/statspipe/internal/config"
	"github.com/carnagereport/statspipe/internal/model"
)

// fixture is a complete on-disk input set for a run.
type fixture struct {
	root     string
	statsDir string
	cfg      *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	statsDir := filepath.Join(root, "stats")
	outDir := filepath.Join(root, "out")
	for _, d := range []string{statsDir, outDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	writeJSON(t, filepath.Join(root, "players.json"), map[string]any{
		"1": map[string]any{"display_name": "Alice", "mac_addresses": []string{"AA:BB:CC:00:00:01"}},
		"2": map[string]any{"display_name": "Bob", "mac_addresses": []string{"AA:BB:CC:00:00:02"}},
		"3": map[string]any{"display_name": "Carol", "mac_addresses": []string{"AA:BB:CC:00:00:03"}},
	})
	writeJSON(t, filepath.Join(root, "xp_config.json"), map[string]any{
		"game_win":  100,
		"game_loss": -50,
		"rank_thresholds": map[string][2]int{
			"1": {0, 99}, "2": {100, 299}, "3": {300, 599}, "4": {600, 999},
		},
	})

	return &fixture{
		root:     root,
		statsDir: statsDir,
		cfg: &config.Config{
			StatsDirs:           []string{statsDir},
			IdentityDir:         statsDir,
			OutputDir:           outDir,
			RegistryFile:        filepath.Join(root, "players.json"),
			ArchivePath:         filepath.Join(outDir, "archive.db"),
			ClassifierStrategy:  "structural",
			ManualPlaylistsFile: filepath.Join(root, "manual_playlists.json"),
			ManualUnrankedFile:  filepath.Join(root, "manual_unranked.json"),
			XPConfigFile:        filepath.Join(root, "xp_config.json"),
		},
	}
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeSheet(t *testing.T, f *excelize.File, name string, rows [][]string, first bool) {
	t.Helper()
	if first {
		if err := f.SetSheetName("Sheet1", name); err != nil {
			t.Fatal(err)
		}
	} else {
		if _, err := f.NewSheet(name); err != nil {
			t.Fatal(err)
		}
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		vals := make([]interface{}, len(row))
		for j, v := range row {
			vals[j] = v
		}
		if err := f.SetSheetRow(name, cell, &vals); err != nil {
			t.Fatal(err)
		}
	}
}

// addDuel writes a decisive 1v1 workbook (alice 15, bob 11) named by stamp.
func (fx *fixture) addDuel(t *testing.T, stamp, startTime string) {
	t.Helper()
	fx.addDuelBetween(t, stamp, startTime, "alice", "bob")
}

func (fx *fixture) addDuelBetween(t *testing.T, stamp, startTime, winner, loser string) {
	t.Helper()
	f := excelize.NewFile()
	writeSheet(t, f, "Game Details", [][]string{
		{"Game Type", "Map Name", "Variant Name", "Start Time", "End Time", "Duration"},
		{"Slayer", "Lockout", "Slayer", startTime, startTime, "9:30"},
	}, true)
	writeSheet(t, f, "Post Game Report", [][]string{
		{"name", "score", "kills", "deaths", "team"},
		{winner, "15", "15", "11", "Red"},
		{loser, "11", "11", "15", "Blue"},
	}, false)
	if err := f.SaveAs(filepath.Join(fx.statsDir, stamp+".xlsx")); err != nil {
		t.Fatal(err)
	}
}

func (fx *fixture) addManifest(t *testing.T, stamp string, extra ...[]string) {
	t.Helper()
	f := excelize.NewFile()
	rows := [][]string{
		{"Player Name", "Xbox Identifier", "Machine Identifier"},
		{"alice", "x1", "AA:BB:CC:00:00:01"},
		{"bob", "x2", "AA:BB:CC:00:00:02"},
	}
	rows = append(rows, extra...)
	writeSheet(t, f, "Identity", rows, true)
	if err := f.SaveAs(filepath.Join(fx.statsDir, stamp+"_identity.xlsx")); err != nil {
		t.Fatal(err)
	}
}

func (fx *fixture) run(t *testing.T) *Result {
	t.Helper()
	p, err := New(fx.cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func readRanks(t *testing.T, fx *fixture) map[string]*model.PersistentIdentity {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(fx.cfg.OutputDir, "ranks.json"))
	if err != nil {
		t.Fatal(err)
	}
	var ranks map[string]*model.PersistentIdentity
	if err := json.Unmarshal(data, &ranks); err != nil {
		t.Fatal(err)
	}
	return ranks
}

func TestRunFullRebuild(t *testing.T) {
	fx := newFixture(t)
	fx.addManifest(t, "20260110_100000")
	fx.addDuel(t, "20260110_190000", "1/10/2026 19:00")
	fx.addDuel(t, "20260110_193000", "1/10/2026 19:30")

	res := fx.run(t)
	if !res.FullRebuild {
		t.Error("first run must be a full rebuild")
	}
	if res.Files != 2 || res.Ranked != 2 {
		t.Errorf("files/ranked = %d/%d, want 2/2", res.Files, res.Ranked)
	}

	ranks := readRanks(t, fx)
	alice, ok := ranks["1"]
	if !ok {
		t.Fatalf("alice missing from ranks: %v", ranks)
	}
	s := alice.Playlists[model.PlaylistHeadToHead]
	if s == nil || s.XP != 200 || s.Wins != 2 || s.Rank != 2 {
		t.Errorf("alice standing = %+v", s)
	}
	if bob := ranks["2"]; bob.Playlists[model.PlaylistHeadToHead].Losses != 2 {
		t.Errorf("bob standing = %+v", bob.Playlists[model.PlaylistHeadToHead])
	}

	for _, name := range []string{"head_to_head_matches.json", "head_to_head_stats.json", "rankhistory.json", "series.json", "processed_state.json"} {
		if _, err := os.Stat(filepath.Join(fx.cfg.OutputDir, name)); err != nil {
			t.Errorf("output %s missing: %v", name, err)
		}
	}
}

func TestRunIncrementalEquivalence(t *testing.T) {
	// Incremental processing of a later batch must land on exactly the
	// standings a single full rebuild over the combined set produces.
	split := newFixture(t)
	split.addManifest(t, "20260110_100000")
	split.addDuel(t, "20260110_190000", "1/10/2026 19:00")
	split.addDuel(t, "20260110_193000", "1/10/2026 19:30")
	split.run(t)

	split.addDuel(t, "20260111_200000", "1/11/2026 20:00")
	second := split.run(t)
	if second.FullRebuild {
		t.Fatal("second run with only new files must stay incremental")
	}
	if second.NewFiles != 1 {
		t.Errorf("new files = %d, want 1", second.NewFiles)
	}

	combined := newFixture(t)
	combined.addManifest(t, "20260110_100000")
	combined.addDuel(t, "20260110_190000", "1/10/2026 19:00")
	combined.addDuel(t, "20260110_193000", "1/10/2026 19:30")
	combined.addDuel(t, "20260111_200000", "1/11/2026 20:00")
	combined.run(t)

	got := readRanks(t, split)["1"].Playlists[model.PlaylistHeadToHead]
	want := readRanks(t, combined)["1"].Playlists[model.PlaylistHeadToHead]
	if *got != *want {
		t.Errorf("incremental standing %+v != full rebuild %+v", *got, *want)
	}
}

func TestRunOverrideDriftForcesFullRebuild(t *testing.T) {
	fx := newFixture(t)
	fx.addManifest(t, "20260110_100000")
	fx.addDuel(t, "20260110_190000", "1/10/2026 19:00")
	fx.run(t)

	// Adding a manual override invalidates incremental state.
	writeJSON(t, fx.cfg.ManualUnrankedFile, []string{"20260110_190000.xlsx"})
	res := fx.run(t)
	if !res.FullRebuild {
		t.Error("override drift must force a full rebuild")
	}
	if res.Ranked != 0 {
		t.Errorf("ranked = %d, want 0 after forced-unranked override", res.Ranked)
	}
}

func TestRunUnresolvedNameGetsProvisionalIdentity(t *testing.T) {
	fx := newFixture(t)
	// No manifest: names cannot address-resolve.
	fx.addDuel(t, "20260110_190000", "1/10/2026 19:00")

	res := fx.run(t)
	unresolved := 0
	for _, w := range res.Warnings {
		if w.Kind == "unresolved" {
			unresolved++
		}
	}
	if unresolved != 2 {
		t.Errorf("unresolved warnings = %d, want 2", unresolved)
	}

	ranks := readRanks(t, fx)
	var provisional *model.PersistentIdentity
	for _, ident := range ranks {
		if ident.Provisional && len(ident.Aliases) > 0 && ident.Aliases[0] == "alice" {
			provisional = ident
		}
	}
	if provisional == nil {
		t.Fatal("no provisional identity for alice")
	}
	if s := provisional.Playlists[model.PlaylistHeadToHead]; s == nil || s.Wins != 1 {
		t.Errorf("provisional standing = %+v", s)
	}
}

func TestRunKeepsRankedAssignmentWhenSessionDataLost(t *testing.T) {
	fx := newFixture(t)
	fx.cfg.ClassifierStrategy = "session"
	fx.cfg.SessionsFile = filepath.Join(fx.root, "sessions.json")
	writeJSON(t, fx.cfg.SessionsFile, []map[string]any{{
		"playlist":   "Head to Head",
		"start_time": "1/10/2026 18:50",
		"team1":      map[string]any{"player_names": []string{"alice"}},
		"team2":      map[string]any{"player_names": []string{"bob"}},
	}})
	fx.addManifest(t, "20260110_100000")
	fx.addDuel(t, "20260110_190000", "1/10/2026 19:00")

	first := fx.run(t)
	if first.Ranked != 1 {
		t.Fatalf("first run ranked = %d, want 1", first.Ranked)
	}

	// The scheduler truncates its session list; already-ranked games must
	// keep their ledger assignment instead of tearing down standings.
	writeJSON(t, fx.cfg.SessionsFile, []map[string]any{})
	second := fx.run(t)
	if second.FullRebuild {
		t.Error("losing session data must not force a full rebuild")
	}
	if second.Ranked != 1 {
		t.Errorf("second run ranked = %d, want 1", second.Ranked)
	}
	if s := readRanks(t, fx)["1"].Playlists[model.PlaylistHeadToHead]; s == nil || s.Wins != 1 || s.XP != 100 {
		t.Errorf("alice standing = %+v, want preserved win", s)
	}
}

func TestRunLateResolvedNameConsolidatesEarlierMatches(t *testing.T) {
	fx := newFixture(t)
	// Carol is absent from the first manifest, so her first game resolves
	// provisionally; the second manifest links her machine address.
	fx.addManifest(t, "20260110_100000")
	fx.addManifest(t, "20260111_100000", []string{"carol", "x3", "AA:BB:CC:00:00:03"})
	fx.addDuelBetween(t, "20260110_190000", "1/10/2026 19:00", "carol", "bob")
	fx.addDuelBetween(t, "20260111_200000", "1/11/2026 20:00", "carol", "bob")

	fx.run(t)
	ranks := readRanks(t, fx)
	carol, ok := ranks["3"]
	if !ok {
		t.Fatalf("carol missing from ranks: %v", ranks)
	}
	s := carol.Playlists[model.PlaylistHeadToHead]
	if s == nil || s.Wins != 2 || s.Games != 2 || s.XP != 200 {
		t.Errorf("carol standing = %+v, want both games credited", s)
	}
	for id, ident := range ranks {
		if ident.Provisional {
			t.Errorf("provisional identity %s survived the merge", id)
		}
	}
}

func TestRunDedicatedServerExcluded(t *testing.T) {
	fx := newFixture(t)
	fx.addManifest(t, "20260110_100000")

	f := excelize.NewFile()
	writeSheet(t, f, "Game Details", [][]string{
		{"Game Type", "Map Name", "Start Time", "Duration"},
		{"Slayer", "Lockout", "1/10/2026 19:00", "9:30"},
	}, true)
	writeSheet(t, f, "Post Game Report", [][]string{
		{"name", "score", "kills", "team"},
		{"alice", "15", "15", "Red"},
		{"bob", "11", "11", "Blue"},
		{"statsdedi", "0", "0", ""},
	}, false)
	if err := f.SaveAs(filepath.Join(fx.statsDir, fmt.Sprintf("%s.xlsx", "20260110_190000"))); err != nil {
		t.Fatal(err)
	}

	fx.run(t)
	ranks := readRanks(t, fx)
	for id, ident := range ranks {
		for _, a := range ident.Aliases {
			if a == "statsdedi" {
				t.Errorf("dedicated server registered as identity %s", id)
			}
		}
	}
}

package sheet

import (
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/carnagereport/statspipe/internal/model"
)

// buildWorkbook assembles a workbook from sheet name to rows.
func buildWorkbook(t *testing.T, sheets map[string][][]string) *excelize.File {
	t.Helper()
	f := excelize.NewFile()
	first := true
	for name, rows := range sheets {
		if first {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				t.Fatal(err)
			}
			first = false
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
	return f
}

func matchWorkbook(t *testing.T) *excelize.File {
	t.Helper()
	return buildWorkbook(t, map[string][][]string{
		sheetGameDetails: {
			{"Game Type", "Map Name", "Variant Name", "Start Time", "End Time", "Duration"},
			{"Slayer", "Lockout", "MLG Slayer", "1/28/2026 20:18", "1/28/2026 20:31", "12:41"},
		},
		sheetPostGame: {
			{"name", "place", "score", "kills", "deaths", "assists", "kda", "suicides", "team", "shots_fired", "shots_hit", "accuracy", "head_shots"},
			{"alice", "1", "25", "25", "18", "3", "1.55", "0", "Red", "310", "142", "45.8", "12"},
			{"bob", "2", "21", "21", "24", "1", "0.91", "1", "Blue", "280", "120", "42.9", "8"},
		},
		sheetVersus: {
			{"", "alice", "bob"},
			{"alice", "0", "25"},
			{"bob", "21", "0"},
		},
		sheetGameStats: {
			{"Player", "Emblem URL", "kills", "deaths", "ctf_scores"},
			{"alice", "https://halo2pc.com/emblem.html?P=1&S=2&EP=3&ES=4&EF=5&EB=6&ET=7", "25", "18", "0"},
		},
		sheetMedals: {
			{"player", "double_kill", "killing_spree"},
			{"alice", "4", "2"},
		},
		sheetWeapons: {
			{"Player", "Battle Rifle", "Sniper Rifle"},
			{"alice", "18", "7"},
		},
	})
}

func TestParseMatch(t *testing.T) {
	m, err := parseMatch(matchWorkbook(t), "20260128_201839.xlsx")
	if err != nil {
		t.Fatalf("parseMatch: %v", err)
	}

	if m.MapName != "Lockout" || m.GameType != model.GameTypeSlayer {
		t.Errorf("details = map %q gametype %v", m.MapName, m.GameType)
	}
	if m.DurationSeconds != 761 {
		t.Errorf("duration = %d, want 761", m.DurationSeconds)
	}
	if m.StartTime.IsZero() {
		t.Error("start time did not parse")
	}

	if len(m.Players) != 2 {
		t.Fatalf("players = %d, want 2", len(m.Players))
	}
	alice := m.Players[0]
	if alice.Name != "alice" || alice.Kills != 25 || alice.Team != model.TeamRed || alice.ScoreNumeric != 25 {
		t.Errorf("alice row = %+v", alice)
	}
	if alice.KDA != 1.55 || alice.Headshots != 12 {
		t.Errorf("alice kda/headshots = %v/%d", alice.KDA, alice.Headshots)
	}

	if m.Versus["alice"]["bob"] != 25 {
		t.Errorf("versus alice>bob = %d, want 25", m.Versus["alice"]["bob"])
	}

	if len(m.Detailed) != 1 {
		t.Fatalf("detailed rows = %d, want 1", len(m.Detailed))
	}
	wantEmblem := "https://carnagereport.com/emblems/P1-S2-EP3-ES4-EF5-EB6-ET7.png"
	if m.Detailed[0].EmblemURL != wantEmblem {
		t.Errorf("emblem = %q, want converted %q", m.Detailed[0].EmblemURL, wantEmblem)
	}

	if len(m.Medals) != 1 || m.Medals[0].Medals["double_kill"] != 4 {
		t.Errorf("medals = %+v", m.Medals)
	}
	if len(m.Weapons) != 1 || m.Weapons[0].Weapons["battle rifle"] != 18 {
		t.Errorf("weapons = %+v", m.Weapons)
	}
}

func TestParseMatchToleratesMissingOptionalSheets(t *testing.T) {
	f := buildWorkbook(t, map[string][][]string{
		sheetGameDetails: {
			{"Game Type", "Map Name", "Start Time", "Duration"},
			{"Slayer", "Midship", "1/28/2026 20:18", "8:00"},
		},
		sheetPostGame: {
			{"name", "score", "team"},
			{"alice", "15", "Red"},
			{"bob", "11", "Blue"},
		},
	})
	m, err := parseMatch(f, "game.xlsx")
	if err != nil {
		t.Fatalf("parseMatch: %v", err)
	}
	if len(m.Players) != 2 || m.Detailed != nil || m.Medals != nil {
		t.Errorf("match = %+v", m)
	}
}

func TestParseMatchSkipsBlankPlayerRows(t *testing.T) {
	f := buildWorkbook(t, map[string][][]string{
		sheetGameDetails: {{"Game Type"}, {"Slayer"}},
		sheetPostGame: {
			{"name", "score"},
			{"alice", "10"},
			{"", "99"},
		},
	})
	m, err := parseMatch(f, "game.xlsx")
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Players) != 1 {
		t.Errorf("players = %d, want blank row skipped", len(m.Players))
	}
}

func TestConvertEmblemURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", ""},
		{"https://carnagereport.com/emblems/P1-S2-EP3-ES4-EF5-EB6-ET7.png", "https://carnagereport.com/emblems/P1-S2-EP3-ES4-EF5-EB6-ET7.png"},
		{"https://halo2pc.com/emblem.html?P=9&S=8&EP=7&ES=6&EF=5&EB=4&ET=3", "https://carnagereport.com/emblems/P9-S8-EP7-ES6-EF5-EB4-ET3.png"},
		{"https://example.com/nothing", "https://example.com/nothing"},
	}
	for _, c := range cases {
		if got := ConvertEmblemURL(c.in); got != c.want {
			t.Errorf("ConvertEmblemURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSelectManifest(t *testing.T) {
	manifests := []string{
		"20260110_100000_identity.xlsx",
		"20260115_090000_identity.xlsx",
		"20260120_180000_identity.xlsx",
	}

	// Latest manifest at or before the match.
	if got := SelectManifest("20260116_200000.xlsx", manifests); got != "20260115_090000_identity.xlsx" {
		t.Errorf("mid-range match picked %q", got)
	}
	// Match after every manifest takes the last one.
	if got := SelectManifest("20260201_120000.xlsx", manifests); got != "20260120_180000_identity.xlsx" {
		t.Errorf("late match picked %q", got)
	}
	// Match before every manifest falls back to the earliest.
	if got := SelectManifest("20260101_120000.xlsx", manifests); got != "20260110_100000_identity.xlsx" {
		t.Errorf("early match picked %q", got)
	}
	if got := SelectManifest("20260101_120000.xlsx", nil); got != "" {
		t.Errorf("no manifests picked %q", got)
	}
}

func TestIsManifest(t *testing.T) {
	if !IsManifest("/stats/20260110_100000_identity.xlsx") {
		t.Error("manifest not recognized")
	}
	if IsManifest("20260110_100000.xlsx") {
		t.Error("match file misread as manifest")
	}
}

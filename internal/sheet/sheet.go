// Package sheet reads the exported match workbooks and session identity
// manifests. Export files are hand-touched spreadsheets, so every cell read
// is lenient: a missing or garbled value becomes a zero, never an error.
package sheet

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/carnagereport/statspipe/internal/identity"
	"github.com/carnagereport/statspipe/internal/model"
)

const (
	sheetGameDetails = "Game Details"
	sheetPostGame    = "Post Game Report"
	sheetVersus      = "Versus"
	sheetGameStats   = "Game Statistics"
	sheetMedals      = "Medal Stats"
	sheetWeapons     = "Weapon Statistics"

	manifestSuffix = "_identity.xlsx"
)

// table is one sheet as a header-indexed row set.
type table struct {
	header map[string]int
	cols   []string
	rows   [][]string
}

func readTable(f *excelize.File, name string) (*table, error) {
	rows, err := f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", name, err)
	}
	if len(rows) == 0 {
		return &table{header: map[string]int{}}, nil
	}
	t := &table{header: make(map[string]int, len(rows[0])), cols: rows[0], rows: rows[1:]}
	for i, col := range rows[0] {
		t.header[strings.TrimSpace(col)] = i
	}
	return t, nil
}

func (t *table) cell(row []string, col string) string {
	i, ok := t.header[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (t *table) cellInt(row []string, col string) int {
	return looseInt(t.cell(row, col))
}

// looseInt tolerates the float renderings excel gives integer cells.
func looseInt(s string) int {
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return 0
}

func looseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return 0
	}
	return f
}

// ParseMatchFile reads one match workbook into a MatchRecord. The Game
// Details and Post Game Report sheets are required; the remaining sheets
// are optional and skipped when absent.
func ParseMatchFile(path string) (*model.MatchRecord, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return parseMatch(f, filepath.Base(path))
}

func parseMatch(f *excelize.File, sourceFile string) (*model.MatchRecord, error) {
	m := &model.MatchRecord{SourceFile: sourceFile}

	details, err := readTable(f, sheetGameDetails)
	if err != nil {
		return nil, err
	}
	if len(details.rows) > 0 {
		row := details.rows[0]
		m.GameTypeRaw = details.cell(row, "Game Type")
		m.GameType = model.ParseGameType(m.GameTypeRaw)
		m.MapName = details.cell(row, "Map Name")
		m.VariantName = details.cell(row, "Variant Name")
		m.StartTimeRaw = details.cell(row, "Start Time")
		m.EndTimeRaw = details.cell(row, "End Time")
		m.StartTime = model.ParseTimestamp(m.StartTimeRaw)
		m.DurationRaw = details.cell(row, "Duration")
		m.DurationSeconds = model.ParseClockSeconds(m.DurationRaw)
	}

	post, err := readTable(f, sheetPostGame)
	if err != nil {
		return nil, err
	}
	for _, row := range post.rows {
		name := post.cell(row, "name")
		if name == "" || identity.IsDedicatedServer(name) {
			continue
		}
		numeric, display := model.ParseScore(post.cell(row, "score"))
		teamName := post.cell(row, "team")
		m.Players = append(m.Players, model.PlayerResult{
			Name:         name,
			Place:        post.cell(row, "place"),
			Score:        display,
			ScoreNumeric: numeric,
			Kills:        post.cellInt(row, "kills"),
			Deaths:       post.cellInt(row, "deaths"),
			Assists:      post.cellInt(row, "assists"),
			KDA:          looseFloat(post.cell(row, "kda")),
			Suicides:     post.cellInt(row, "suicides"),
			Team:         model.ParseTeam(teamName),
			TeamName:     teamName,
			ShotsFired:   post.cellInt(row, "shots_fired"),
			ShotsHit:     post.cellInt(row, "shots_hit"),
			Accuracy:     looseFloat(post.cell(row, "accuracy")),
			Headshots:    post.cellInt(row, "head_shots"),
		})
	}

	// The remaining sheets are supplementary; a missing one is fine.
	if versus, err := readTable(f, sheetVersus); err == nil {
		m.Versus = parseVersus(versus)
	}
	if stats, err := readTable(f, sheetGameStats); err == nil {
		m.Detailed = parseDetailed(stats)
	}
	if medals, err := readTable(f, sheetMedals); err == nil {
		m.Medals = parseTallies(medals, "player", func(p string, counts map[string]int) model.MedalTally {
			return model.MedalTally{Player: p, Medals: counts}
		})
	}
	if weapons, err := readTable(f, sheetWeapons); err == nil {
		m.Weapons = parseTallies(weapons, "Player", func(p string, counts map[string]int) model.WeaponTally {
			return model.WeaponTally{Player: p, Weapons: counts}
		})
	}
	return m, nil
}

// parseVersus reads the kill matrix: first column is the player, remaining
// columns are kills against each opponent.
func parseVersus(t *table) map[string]map[string]int {
	if len(t.rows) == 0 || len(t.cols) < 2 {
		return nil
	}
	out := make(map[string]map[string]int, len(t.rows))
	for _, row := range t.rows {
		if len(row) == 0 {
			continue
		}
		player := strings.TrimSpace(row[0])
		if player == "" {
			continue
		}
		kills := make(map[string]int, len(t.cols)-1)
		for i := 1; i < len(t.cols); i++ {
			opponent := strings.TrimSpace(t.cols[i])
			if opponent == "" {
				continue
			}
			v := ""
			if i < len(row) {
				v = row[i]
			}
			kills[opponent] = looseInt(v)
		}
		out[player] = kills
	}
	return out
}

func parseDetailed(t *table) []model.DetailedStats {
	var out []model.DetailedStats
	for _, row := range t.rows {
		player := t.cell(row, "Player")
		if player == "" {
			continue
		}
		out = append(out, model.DetailedStats{
			Player:         player,
			EmblemURL:      ConvertEmblemURL(t.cell(row, "Emblem URL")),
			Kills:          t.cellInt(row, "kills"),
			Assists:        t.cellInt(row, "assists"),
			Deaths:         t.cellInt(row, "deaths"),
			Headshots:      t.cellInt(row, "headshots"),
			Betrayals:      t.cellInt(row, "betrayals"),
			Suicides:       t.cellInt(row, "suicides"),
			BestSpree:      t.cellInt(row, "best_spree"),
			TotalTimeAlive: t.cellInt(row, "total_time_alive"),
			CTFScores:      t.cellInt(row, "ctf_scores"),
			CTFFlagSteals:  t.cellInt(row, "ctf_flag_steals"),
			CTFFlagSaves:   t.cellInt(row, "ctf_flag_saves"),
		})
	}
	return out
}

// parseTallies reads a sheet of per-player counters keyed by column name.
func parseTallies[T any](t *table, playerCol string, build func(player string, counts map[string]int) T) []T {
	var out []T
	for _, row := range t.rows {
		player := t.cell(row, playerCol)
		if player == "" {
			continue
		}
		counts := map[string]int{}
		for _, col := range t.cols {
			col = strings.TrimSpace(col)
			if col == "" || col == playerCol {
				continue
			}
			counts[strings.ToLower(col)] = t.cellInt(row, col)
		}
		out = append(out, build(player, counts))
	}
	return out
}

var emblemParams = regexp.MustCompile(`P=(\d+).*?S=(\d+).*?EP=(\d+).*?ES=(\d+).*?EF=(\d+).*?EB=(\d+).*?ET=(\d+)`)

// ConvertEmblemURL rewrites legacy emblem-generator URLs to the hosted
// image format. Already-converted and unrecognized URLs pass through.
func ConvertEmblemURL(url string) string {
	if url == "" {
		return ""
	}
	if strings.Contains(url, "carnagereport.com/emblems/") {
		return url
	}
	m := emblemParams.FindStringSubmatch(url)
	if m == nil {
		return url
	}
	return fmt.Sprintf("https://carnagereport.com/emblems/P%s-S%s-EP%s-ES%s-EF%s-EB%s-ET%s.png", m[1], m[2], m[3], m[4], m[5], m[6], m[7])
}

// ParseIdentityManifest reads a session identity manifest into a map of
// lowercased in-game name to normalized hardware address.
func ParseIdentityManifest(path string) (map[string]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%s: workbook has no sheets", path)
	}
	t, err := readTable(f, sheets[0])
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(t.rows))
	for _, row := range t.rows {
		name := t.cell(row, "Player Name")
		addr := identity.NormalizeAddress(t.cell(row, "Machine Identifier"))
		if name != "" && addr != "" {
			out[strings.ToLower(name)] = addr
		}
	}
	return out, nil
}

// IsManifest reports whether the filename is a session identity manifest
// rather than a match workbook.
func IsManifest(name string) bool {
	return strings.HasSuffix(filepath.Base(name), manifestSuffix)
}

// SelectManifest picks the manifest covering a match file. Both kinds of
// file are named by timestamp (20251128_201839.xlsx, 20251128_074332_identity.xlsx),
// so the right manifest is the latest one dated at or before the match;
// when the match predates every manifest, the earliest manifest is used.
// manifests must be sorted ascending. Returns "" when there are none.
func SelectManifest(matchFile string, manifests []string) string {
	if len(manifests) == 0 {
		return ""
	}
	matchStamp := strings.TrimSuffix(filepath.Base(matchFile), ".xlsx")
	best := ""
	for _, mf := range manifests {
		stamp := strings.TrimSuffix(filepath.Base(mf), manifestSuffix)
		if stamp <= matchStamp {
			best = mf
		}
	}
	if best == "" {
		best = manifests[0]
	}
	return best
}

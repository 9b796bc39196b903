// Package report renders run results and diagnostics as terminal tables.
package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/carnagereport/statspipe/internal/archive"
	"github.com/carnagereport/statspipe/internal/model"
)

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w, tablewriter.WithConfig(tablewriter.Config{
		Row:    tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignRight}},
		Header: tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignCenter}},
	}))
}

// Standings prints a playlist leaderboard.
func Standings(w io.Writer, playlist string, rows []archive.StandingRow) {
	if len(rows) == 0 {
		fmt.Fprintf(w, "No standings for %s yet.\n", playlist)
		return
	}
	fmt.Fprintf(w, "%s\n", playlist)
	table := newTable(w)
	table.Header("#", "PLAYER", "RANK", "XP", "W", "L", "GAMES", "PEAK")
	for i, r := range rows {
		table.Append(strconv.Itoa(i+1), r.DisplayName, strconv.Itoa(r.Rank),
			strconv.Itoa(r.XP), strconv.Itoa(r.Wins), strconv.Itoa(r.Losses),
			strconv.Itoa(r.Games), strconv.Itoa(r.HighestRank))
	}
	table.Render()
}

// MatchLog prints the archived match summaries, newest first.
func MatchLog(w io.Writer, rows []archive.MatchRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No matches archived.")
		return
	}
	table := newTable(w)
	table.Header("DATE", "FILE", "MAP", "GAMETYPE", "PLAYLIST", "SCORE", "WINNER")
	for _, r := range rows {
		playlist := r.Playlist
		if playlist == "" {
			playlist = "unranked"
		}
		score := fmt.Sprintf("%d-%d", r.RedScore, r.BlueScore)
		table.Append(r.StartTime, r.SourceFile, r.MapName, r.GameType, playlist, score, r.WinnerTeam)
	}
	table.Render()
}

// Matches prints a player's match log, newest first.
func Matches(w io.Writer, rows []archive.PlayerMatchRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No matches recorded.")
		return
	}
	table := newTable(w)
	table.Header("DATE", "MAP", "GAMETYPE", "PLAYLIST", "TEAM", "SCORE", "K", "D", "A", "RANK")
	for _, r := range rows {
		playlist := r.Playlist
		if playlist == "" {
			playlist = "unranked"
		}
		table.Append(r.StartTime, r.MapName, r.GameType, playlist, r.Team,
			strconv.Itoa(r.Score), strconv.Itoa(r.Kills), strconv.Itoa(r.Deaths),
			strconv.Itoa(r.Assists), strconv.Itoa(r.PreGameRank))
	}
	table.Render()
}

// Series prints the detected series for a playlist.
func Series(w io.Writer, playlist string, all []model.Series) {
	if len(all) == 0 {
		fmt.Fprintf(w, "No series detected for %s.\n", playlist)
		return
	}
	fmt.Fprintf(w, "%s\n", playlist)
	table := newTable(w)
	table.Header("ID", "TYPE", "GAMES", "TALLY", "WINNER", "START")
	for _, s := range all {
		tally := fmt.Sprintf("%d-%d", s.RedWins, s.BlueWins)
		table.Append(s.ID, s.Type, strconv.Itoa(len(s.Games)), tally, s.Winner, s.StartTime)
	}
	table.Render()
}

// Warning is one operator-facing diagnostic collected during a run.
type Warning struct {
	Kind   string
	File   string
	Detail string
}

// Warnings prints the end-of-run diagnostic summary. These are review
// items, not failures.
func Warnings(w io.Writer, warnings []Warning) {
	if len(warnings) == 0 {
		fmt.Fprintln(w, "No warnings.")
		return
	}
	fmt.Fprintf(w, "%d warnings:\n", len(warnings))
	table := newTable(w)
	table.Header("KIND", "FILE", "DETAIL")
	for _, warn := range warnings {
		table.Append(warn.Kind, warn.File, warn.Detail)
	}
	table.Render()
}

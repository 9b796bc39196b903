// Package series groups consecutive matches between an unchanged pair of
// team rosters into best-of-N series.
package series

import (
	"fmt"
	"sort"
	"strings"

	"github.com/carnagereport/statspipe/internal/model"
	"github.com/carnagereport/statspipe/internal/outcome"
)

// teamSignature identifies an unordered roster pair. Each side is the
// sorted, lowercased player names joined with "|"; the two sides are
// ordered lexically so Red/Blue swaps between games do not split a series.
func teamSignature(red, blue []string) string {
	a, b := sideKey(red), sideKey(blue)
	if b < a {
		a, b = b, a
	}
	return a + "::" + b
}

func sideKey(names []string) string {
	lower := make([]string, len(names))
	for i, n := range names {
		lower[i] = strings.ToLower(n)
	}
	sort.Strings(lower)
	return strings.Join(lower, "|")
}

// typeAndTarget infers the series format from game count alone.
func typeAndTarget(games int) (string, int) {
	switch {
	case games <= 3:
		return "Bo3", 2
	case games <= 5:
		return "Bo5", 3
	case games <= 7:
		return "Bo7", 4
	default:
		return "Custom", games/2 + 1
	}
}

type accumulator struct {
	signature string
	series    model.Series
}

// Detect runs a single forward pass over matches already sorted ascending
// by start time and returns the finalized series. Matches without two team
// rosters are skipped.
func Detect(playlist string, matches []*model.MatchRecord) []model.Series {
	var out []model.Series
	var cur *accumulator

	finalize := func() {
		if cur == nil {
			return
		}
		finishSeries(&cur.series, len(out)+1)
		out = append(out, cur.series)
		cur = nil
	}

	for _, m := range matches {
		red := m.TeamPlayers(model.TeamRed)
		blue := m.TeamPlayers(model.TeamBlue)
		if len(red) == 0 || len(blue) == 0 {
			continue
		}
		sig := teamSignature(red, blue)
		if cur == nil || cur.signature != sig {
			finalize()
			cur = &accumulator{
				signature: sig,
				series: model.Series{
					Playlist:  playlist,
					RedTeam:   red,
					BlueTeam:  blue,
					StartTime: m.StartTimeRaw,
				},
			}
		}

		res := outcome.Score(m)
		game := model.SeriesGame{
			Timestamp:   m.StartTimeRaw,
			Map:         m.MapName,
			Gametype:    m.GameTypeRaw,
			VariantName: m.VariantName,
			SourceFile:  m.SourceFile,
		}
		// The accumulator's rosters define Red/Blue for the whole series;
		// a mid-series color swap flips the tally accordingly.
		winnerSide := sideForTeam(cur, m, res.WinnerTeam)
		switch winnerSide {
		case "Red":
			cur.series.RedWins++
		case "Blue":
			cur.series.BlueWins++
		}
		game.Winner = winnerSide
		cur.series.Games = append(cur.series.Games, game)
		cur.series.EndTime = m.StartTimeRaw
	}
	finalize()
	return out
}

func sideForTeam(cur *accumulator, m *model.MatchRecord, winner model.Team) string {
	if winner == model.TeamNone {
		return ""
	}
	names := m.TeamPlayers(winner)
	if len(names) == 0 {
		return ""
	}
	if sideKey(names) == sideKey(cur.series.RedTeam) {
		return "Red"
	}
	return "Blue"
}

func finishSeries(s *model.Series, n int) {
	s.ID = fmt.Sprintf("series_%d", n)
	var target int
	s.Type, target = typeAndTarget(len(s.Games))
	switch {
	case s.RedWins >= target:
		s.Winner = "Red"
	case s.BlueWins >= target:
		s.Winner = "Blue"
	case s.RedWins > s.BlueWins:
		s.Winner = "Red"
	case s.BlueWins > s.RedWins:
		s.Winner = "Blue"
	default:
		s.Winner = "Tie"
	}
}

// ApplyTallies folds finished series into each participant's identity
// record. resolve maps an in-game name to an identity ID ("" when the name
// never resolved).
func ApplyTallies(all []model.Series, resolve func(name string) string, get func(id string) *model.PersistentIdentity) {
	for i := range all {
		s := &all[i]
		credit := func(names []string, won bool) {
			for _, name := range names {
				id := resolve(name)
				if id == "" {
					continue
				}
				ident := get(id)
				if ident == nil {
					continue
				}
				ident.TotalSeries++
				if s.Winner == "Tie" {
					continue
				}
				if won {
					ident.SeriesWins++
				} else {
					ident.SeriesLosses++
				}
			}
		}
		credit(s.RedTeam, s.Winner == "Red")
		credit(s.BlueTeam, s.Winner == "Blue")
	}
}

// Package outcome is the single authority for per-match team scoring and
// winner determination. Every consumer (replay, series detection, reports,
// the archive) goes through Score so the CTF and Oddball special cases are
// applied identically everywhere.
package outcome

import (
	"strings"

	"github.com/carnagereport/statspipe/internal/model"
)

// Result holds the computed outcome of one match.
type Result struct {
	RedScore  int
	BlueScore int
	// Winners/Losers are the winning and losing players' in-game names.
	// Both are empty for a tie or for a match without two teams.
	Winners []string
	Losers  []string
	// WinnerTeam is TeamNone for a tie.
	WinnerTeam model.Team
}

// IsTie reports whether both teams scored and the scores were equal.
func (r Result) IsTie() bool {
	return r.WinnerTeam == model.TeamNone && len(r.Winners) == 0
}

// isCTF matches the gametype and variant fields, since exports disagree on
// which one carries the mode.
func isCTF(m *model.MatchRecord) bool {
	if m.GameType == model.GameTypeCTF {
		return true
	}
	variant := strings.ToLower(m.VariantName)
	gt := strings.ToLower(m.GameTypeRaw)
	return strings.Contains(variant, "ctf") || strings.Contains(gt, "ctf") ||
		strings.Contains(gt, "capture") || strings.Contains(variant, "flag")
}

func isOddball(m *model.MatchRecord) bool {
	if m.GameType == model.GameTypeOddball {
		return true
	}
	variant := strings.ToLower(m.VariantName)
	gt := strings.ToLower(m.GameTypeRaw)
	return strings.Contains(variant, "oddball") || strings.Contains(gt, "ball")
}

// Score computes team scores and winners for a match.
//
// Scoring rule by mode:
//   - CTF family: sum of each member's flag captures from the Game
//     Statistics sheet, not the generic score column.
//   - Oddball family: sum of each member's held time, "M:SS" parsed to
//     seconds (garbled values count 0).
//   - everything else: sum of the generic numeric score.
//
// Equal scores yield no winners and no losers.
func Score(m *model.MatchRecord) Result {
	var res Result

	ctf := isCTF(m) && len(m.Detailed) > 0
	oddball := isOddball(m)

	var captures map[string]int
	if ctf {
		captures = make(map[string]int, len(m.Detailed))
		for i := range m.Detailed {
			captures[m.Detailed[i].Player] = m.Detailed[i].CTFScores
		}
	}

	playerScore := func(p *model.PlayerResult) int {
		switch {
		case ctf:
			return captures[p.Name]
		case oddball:
			return model.ParseClockSeconds(p.Score)
		default:
			return p.ScoreNumeric
		}
	}

	var haveRed, haveBlue bool
	for i := range m.Players {
		p := &m.Players[i]
		switch p.Team {
		case model.TeamRed:
			haveRed = true
			res.RedScore += playerScore(p)
		case model.TeamBlue:
			haveBlue = true
			res.BlueScore += playerScore(p)
		}
	}

	// A 1v1 exported without team columns still has two sides.
	if !haveRed && !haveBlue && len(m.Players) == 2 {
		res.RedScore = playerScore(&m.Players[0])
		res.BlueScore = playerScore(&m.Players[1])
		switch {
		case res.RedScore > res.BlueScore:
			res.WinnerTeam = model.TeamRed
			res.Winners = []string{m.Players[0].Name}
			res.Losers = []string{m.Players[1].Name}
		case res.BlueScore > res.RedScore:
			res.WinnerTeam = model.TeamBlue
			res.Winners = []string{m.Players[1].Name}
			res.Losers = []string{m.Players[0].Name}
		}
		return res
	}

	if !haveRed || !haveBlue {
		return res
	}

	switch {
	case res.RedScore > res.BlueScore:
		res.WinnerTeam = model.TeamRed
		res.Winners = m.TeamPlayers(model.TeamRed)
		res.Losers = m.TeamPlayers(model.TeamBlue)
	case res.BlueScore > res.RedScore:
		res.WinnerTeam = model.TeamBlue
		res.Winners = m.TeamPlayers(model.TeamBlue)
		res.Losers = m.TeamPlayers(model.TeamRed)
	}
	return res
}

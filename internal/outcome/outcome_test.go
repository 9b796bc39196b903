package outcome

import (
	"testing"

	"github.com/carnagereport/statspipe/internal/model"
)

// teamMatch builds a 2v2 match with the given per-player numeric scores.
func teamMatch(gametype string, redScores, blueScores []int) *model.MatchRecord {
	m := &model.MatchRecord{
		GameTypeRaw: gametype,
		GameType:    model.ParseGameType(gametype),
	}
	for i, s := range redScores {
		m.Players = append(m.Players, model.PlayerResult{
			Name: "red" + string(rune('a'+i)), Team: model.TeamRed, ScoreNumeric: s,
		})
	}
	for i, s := range blueScores {
		m.Players = append(m.Players, model.PlayerResult{
			Name: "blue" + string(rune('a'+i)), Team: model.TeamBlue, ScoreNumeric: s,
		})
	}
	return m
}

func TestSlayerScoreSumsNumericScore(t *testing.T) {
	m := teamMatch("Slayer", []int{20, 15}, []int{18, 12})
	res := Score(m)
	if res.RedScore != 35 || res.BlueScore != 30 {
		t.Fatalf("scores = %d-%d, want 35-30", res.RedScore, res.BlueScore)
	}
	if res.WinnerTeam != model.TeamRed {
		t.Errorf("winner = %v, want Red", res.WinnerTeam)
	}
	if len(res.Winners) != 2 || len(res.Losers) != 2 {
		t.Errorf("winners/losers = %v / %v", res.Winners, res.Losers)
	}
}

func TestTieYieldsNoWinnersOrLosers(t *testing.T) {
	m := teamMatch("Slayer", []int{25}, []int{25})
	res := Score(m)
	if !res.IsTie() {
		t.Fatal("expected tie")
	}
	if len(res.Winners) != 0 || len(res.Losers) != 0 {
		t.Errorf("tie produced winners=%v losers=%v", res.Winners, res.Losers)
	}
}

func TestCTFUsesFlagCapturesNotScore(t *testing.T) {
	// Generic score would favor Blue; flag captures favor Red.
	m := teamMatch("CTF", []int{5}, []int{50})
	m.Detailed = []model.DetailedStats{
		{Player: "reda", CTFScores: 3},
		{Player: "bluea", CTFScores: 1},
	}
	res := Score(m)
	if res.RedScore != 3 || res.BlueScore != 1 {
		t.Fatalf("CTF scores = %d-%d, want 3-1", res.RedScore, res.BlueScore)
	}
	if res.WinnerTeam != model.TeamRed {
		t.Errorf("winner = %v, want Red", res.WinnerTeam)
	}
}

func TestCTFDetectedFromVariantName(t *testing.T) {
	m := teamMatch("Unknown", []int{0}, []int{0})
	m.VariantName = "MLG CTF v8"
	m.Detailed = []model.DetailedStats{
		{Player: "reda", CTFScores: 2},
		{Player: "bluea", CTFScores: 0},
	}
	res := Score(m)
	if res.RedScore != 2 || res.WinnerTeam != model.TeamRed {
		t.Errorf("variant-name CTF: scores %d-%d winner %v", res.RedScore, res.BlueScore, res.WinnerTeam)
	}
}

func TestOddballParsesHeldTime(t *testing.T) {
	m := &model.MatchRecord{GameTypeRaw: "Oddball", GameType: model.GameTypeOddball}
	m.Players = []model.PlayerResult{
		{Name: "r1", Team: model.TeamRed, Score: "1:05"},
		{Name: "r2", Team: model.TeamRed, Score: "0:30"},
		{Name: "b1", Team: model.TeamBlue, Score: "2:00"},
		{Name: "b2", Team: model.TeamBlue, Score: "garbled"},
	}
	res := Score(m)
	if res.RedScore != 95 {
		t.Errorf("red held time = %d, want 95", res.RedScore)
	}
	if res.BlueScore != 120 {
		t.Errorf("blue held time = %d, want 120 (garbled counts 0)", res.BlueScore)
	}
	if res.WinnerTeam != model.TeamBlue {
		t.Errorf("winner = %v, want Blue", res.WinnerTeam)
	}
}

func TestNoTeamsNoOutcome(t *testing.T) {
	m := &model.MatchRecord{Players: []model.PlayerResult{
		{Name: "a", ScoreNumeric: 10},
		{Name: "b", ScoreNumeric: 20},
		{Name: "c", ScoreNumeric: 15},
	}}
	res := Score(m)
	if res.WinnerTeam != model.TeamNone || len(res.Winners) != 0 {
		t.Errorf("FFA produced outcome %+v", res)
	}
}

func TestTeamlessDuelScoresEachSide(t *testing.T) {
	m := &model.MatchRecord{Players: []model.PlayerResult{
		{Name: "a", ScoreNumeric: 15},
		{Name: "b", ScoreNumeric: 11},
	}}
	res := Score(m)
	if res.RedScore != 15 || res.BlueScore != 11 {
		t.Fatalf("duel scores = %d-%d, want 15-11", res.RedScore, res.BlueScore)
	}
	if len(res.Winners) != 1 || res.Winners[0] != "a" {
		t.Errorf("winners = %v, want [a]", res.Winners)
	}
	if len(res.Losers) != 1 || res.Losers[0] != "b" {
		t.Errorf("losers = %v, want [b]", res.Losers)
	}
}

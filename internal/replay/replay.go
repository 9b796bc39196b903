// Package replay is the ranking state machine: it applies ranked matches in
// chronological order, updating per-playlist XP, rank, and win/loss records
// for every resolved identity.
//
// XP transitions are order-dependent, so the loop is strictly sequential and
// the final state is a pure function of the ordered match sequence.
package replay

import (
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/carnagereport/statspipe/internal/config"
	"github.com/carnagereport/statspipe/internal/identity"
	"github.com/carnagereport/statspipe/internal/model"
	"github.com/carnagereport/statspipe/internal/outcome"
)

// RankForXP maps XP to a rank tier: the highest tier whose inclusive band
// contains the value, tier 1 if none does.
func RankForXP(xp int, thresholds map[string][2]int) int {
	for rank := 50; rank >= 1; rank-- {
		band, ok := thresholds[strconv.Itoa(rank)]
		if !ok {
			continue
		}
		if xp >= band[0] && xp <= band[1] {
			return rank
		}
	}
	return 1
}

// WinFactor damps win XP for high ranks. Full bonus through rank 40, then
// the configured per-rank value (default 0.50).
func WinFactor(rank int, factors map[string]float64) float64 {
	if rank <= 40 {
		return 1.0
	}
	if f, ok := factors[strconv.Itoa(rank)]; ok {
		return f
	}
	return 0.50
}

// LossFactor damps loss XP for low ranks. Full penalty from rank 30 up,
// otherwise the configured per-rank value (default 1.0).
func LossFactor(rank int, factors map[string]float64) float64 {
	if rank >= 30 {
		return 1.0
	}
	if f, ok := factors[strconv.Itoa(rank)]; ok {
		return f
	}
	return 1.0
}

// SortMatches orders matches ascending by start time, breaking ties by
// source filename so replay order is reproducible.
func SortMatches(matches []*model.MatchRecord) {
	sort.SliceStable(matches, func(i, j int) bool {
		if !matches[i].StartTime.Equal(matches[j].StartTime) {
			return matches[i].StartTime.Before(matches[j].StartTime)
		}
		return matches[i].SourceFile < matches[j].SourceFile
	})
}

// Engine replays ranked matches against an identity registry.
type Engine struct {
	cfg      *config.XPConfig
	registry *identity.Registry
	log      zerolog.Logger

	// history is keyed by identity ID, entries in replay order.
	history map[string][]model.HistoryEntry
}

func NewEngine(cfg *config.XPConfig, reg *identity.Registry, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		registry: reg,
		log:      log,
		history:  make(map[string][]model.HistoryEntry),
	}
}

// SeedHistory preloads prior rank history before an incremental replay, so
// new entries append after the existing ones.
func (e *Engine) SeedHistory(prior map[string][]model.HistoryEntry) {
	for id, entries := range prior {
		e.history[id] = append(e.history[id], entries...)
	}
}

// History returns the accumulated rank history per identity ID.
func (e *Engine) History() map[string][]model.HistoryEntry {
	return e.history
}

// Replay applies every ranked match in order. Matches must already be
// sorted ascending by start time, carry a playlist, and have player rows
// annotated with resolved identity IDs. Rows without an identity are
// skipped.
func (e *Engine) Replay(matches []*model.MatchRecord) {
	for _, m := range matches {
		if m.Playlist == "" {
			continue
		}
		e.applyMatch(m)
	}
	e.FinalizeOverall()
}

func (e *Engine) applyMatch(m *model.MatchRecord) {
	res := outcome.Score(m)
	winners := nameSet(res.Winners)
	losers := nameSet(res.Losers)

	for i := range m.Players {
		p := &m.Players[i]
		if p.IdentityID == "" {
			continue
		}
		ident := e.registry.Get(p.IdentityID)
		if ident == nil {
			e.log.Warn().Str("identity", p.IdentityID).Str("file", m.SourceFile).
				Msg("player row references unknown identity, skipped")
			continue
		}

		standing := ident.Standing(m.Playlist)
		rankBefore := standing.Rank
		p.PreGameRank = rankBefore

		delta := 0
		result := "tie"
		switch {
		case winners[p.Name]:
			delta = int(float64(e.cfg.GameWin) * WinFactor(rankBefore, e.cfg.WinFactors))
			standing.Wins++
			ident.Wins++
			result = "win"
		case losers[p.Name]:
			delta = int(float64(e.cfg.GameLoss) * LossFactor(rankBefore, e.cfg.LossFactors))
			standing.Losses++
			ident.Losses++
			result = "loss"
		}
		standing.Games++
		ident.TotalGames++

		standing.XP += delta
		if standing.XP < 0 {
			standing.XP = 0
		}
		standing.Rank = RankForXP(standing.XP, e.cfg.RankThresholds)
		if standing.Rank > standing.HighestRank {
			standing.HighestRank = standing.Rank
		}

		ident.Kills += p.Kills
		ident.Deaths += p.Deaths
		ident.Assists += p.Assists
		ident.Headshots += p.Headshots
		ident.AddAlias(p.Name)

		e.history[ident.ID] = append(e.history[ident.ID], model.HistoryEntry{
			Timestamp:  matchTimestamp(m),
			SourceFile: m.SourceFile,
			Map:        m.MapName,
			Gametype:   m.GameTypeRaw,
			Playlist:   m.Playlist,
			XPChange:   delta,
			XPTotal:    standing.XP,
			RankBefore: rankBefore,
			RankAfter:  standing.Rank,
			Result:     result,
		})
	}
}

// FinalizeOverall recomputes each identity's cross-playlist summary: XP and
// rank follow the highest-XP ("primary") playlist, highest rank is the max
// across playlists.
func (e *Engine) FinalizeOverall() {
	for _, id := range e.registry.IDs() {
		ident := e.registry.Get(id)
		if ident == nil || len(ident.Playlists) == 0 {
			continue
		}
		ident.XP = 0
		ident.Rank = 1
		ident.HighestRank = 1
		first := true
		for _, s := range ident.Playlists {
			if first || s.XP > ident.XP {
				ident.XP = s.XP
				ident.Rank = s.Rank
				first = false
			}
			if s.HighestRank > ident.HighestRank {
				ident.HighestRank = s.HighestRank
			}
		}
	}
}

// matchTimestamp stamps history entries with the game's end time, falling
// back to the start when the export lacks one.
func matchTimestamp(m *model.MatchRecord) string {
	if end := model.ParseTimestamp(m.EndTimeRaw); !end.IsZero() {
		return end.Format(time.RFC3339)
	}
	if m.EndTimeRaw != "" {
		return m.EndTimeRaw
	}
	if !m.StartTime.IsZero() {
		return m.StartTime.Format(time.RFC3339)
	}
	return m.StartTimeRaw
}

func nameSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// Package classify assigns each match to a playlist, or leaves it unranked.
package classify

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/carnagereport/statspipe/internal/model"
	"github.com/carnagereport/statspipe/internal/outcome"
)

// MinDurationSeconds filters out restart artifacts.
const MinDurationSeconds = 120

// h2hKillCap is the head-to-head slayer kill limit. A higher max score
// means informal play and disqualifies the match.
const h2hKillCap = 15

// h2hTimeLimitSeconds accepts time-limit completions slightly under the
// nominal 15 minutes to allow for exporter variance.
const h2hTimeLimitSeconds = 14 * 60

// sessionTimeBuffer widens a scheduler session's start when matching game
// timestamps against it.
const sessionTimeBuffer = 5 * time.Minute

// validCombos is the map/base-gametype whitelist for the top team playlists.
var validCombos = map[string][]string{
	"Midship":      {"ctf", "slayer", "oddball", "assault"},
	"Beaver Creek": {"ctf", "slayer"},
	"Lockout":      {"slayer", "oddball"},
	"Warlock":      {"ctf", "slayer", "oddball"},
	"Sanctuary":    {"ctf", "slayer"},
}

var gametypeAliases = map[string]string{
	"capture_the_flag": "ctf",
	"king_of_the_hill": "koth",
	"king":             "koth",
}

// ValidTopTierCombo reports whether the map and base gametype pair is on
// the whitelist. Matching is substring-tolerant in both directions because
// exports write the gametype inconsistently ("CTF", "ctf_classic").
func ValidTopTierCombo(mapName, baseGametype string) bool {
	valid, ok := validCombos[strings.TrimSpace(mapName)]
	if !ok {
		return false
	}
	gt := strings.ToLower(strings.TrimSpace(baseGametype))
	if alias, ok := gametypeAliases[gt]; ok {
		gt = alias
	}
	for _, v := range valid {
		if strings.Contains(gt, v) || strings.Contains(v, gt) {
			return true
		}
	}
	return false
}

// Overrides are the manual per-file classification inputs. ForcedUnranked
// beats ForcedPlaylists.
type Overrides struct {
	ForcedPlaylists map[string]string
	ForcedUnranked  map[string]bool
}

// Strategy decides the playlist for a match that already passed the manual
// override and duration gates. Empty string means unranked.
type Strategy interface {
	Name() string
	Classify(m *model.MatchRecord) string
}

// Classifier applies the override and duration gates, then delegates to its
// strategy.
type Classifier struct {
	overrides Overrides
	strategy  Strategy
	log       zerolog.Logger
}

func New(overrides Overrides, strategy Strategy, log zerolog.Logger) *Classifier {
	return &Classifier{overrides: overrides, strategy: strategy, log: log}
}

// Classify returns the playlist for the match, or "" if it is unranked.
func (c *Classifier) Classify(m *model.MatchRecord) string {
	if c.overrides.ForcedUnranked[m.SourceFile] {
		c.log.Debug().Str("file", m.SourceFile).Msg("forced unranked")
		return ""
	}
	if forced, ok := c.overrides.ForcedPlaylists[m.SourceFile]; ok {
		playlist := model.NormalizePlaylist(forced)
		c.log.Debug().Str("file", m.SourceFile).Str("playlist", playlist).Msg("forced playlist")
		return playlist
	}
	if m.DurationSeconds < MinDurationSeconds {
		c.log.Debug().Str("file", m.SourceFile).Int("seconds", m.DurationSeconds).Msg("too short, rejected")
		return ""
	}
	return c.strategy.Classify(m)
}

// Structural classifies on player count, team structure, and the combo
// whitelist alone.
type Structural struct{}

func (Structural) Name() string { return "structural" }

func (Structural) Classify(m *model.MatchRecord) string {
	count := len(m.Players)
	team := m.IsTeamGame()

	// FFA is always custom play.
	if count >= 3 && !team {
		return ""
	}
	if count == 8 && team && ValidTopTierCombo(m.MapName, m.GameTypeRaw) {
		return model.PlaylistMLG4v4
	}
	if count == 4 && team {
		return model.PlaylistDoubleTeam
	}
	if count == 2 {
		return classifyHeadToHead(m)
	}
	return ""
}

// classifyHeadToHead accepts a 1v1 only when it reached a decisive end:
// the kill cap, or the time limit.
func classifyHeadToHead(m *model.MatchRecord) string {
	res := outcome.Score(m)
	maxScore := res.RedScore
	if res.BlueScore > maxScore {
		maxScore = res.BlueScore
	}
	if maxScore > h2hKillCap {
		return ""
	}
	if maxScore == h2hKillCap || m.DurationSeconds >= h2hTimeLimitSeconds {
		return model.PlaylistHeadToHead
	}
	return ""
}

// SessionCorroborated requires a scheduler session covering the match's
// time window with an overlapping roster before accepting the session's
// playlist, and then still validates the structural constraints for that
// playlist. A match with no corroborating session is unranked.
type SessionCorroborated struct {
	// Sessions are the scheduler records, with UTC timestamps.
	Sessions []model.SchedulerSession
	// UTCOffset shifts session timestamps to the match files' naive local
	// wall-clock time.
	UTCOffset time.Duration
	// ResolveID maps a raw in-game name to an identity ID for roster
	// comparison. Returns "" when unresolved.
	ResolveID func(name string) string
}

func (SessionCorroborated) Name() string { return "session" }

func (s SessionCorroborated) Classify(m *model.MatchRecord) string {
	session := s.findSession(m)
	if session == nil {
		return ""
	}
	playlist := model.NormalizePlaylist(session.Playlist)
	switch playlist {
	case model.PlaylistHeadToHead:
		if len(m.Players) == 2 {
			return playlist
		}
	case model.PlaylistDoubleTeam:
		if len(m.Players) == 4 && m.IsTeamGame() {
			return playlist
		}
	case model.PlaylistMLG4v4, model.PlaylistTeamHardcore:
		if len(m.Players) == 8 && m.IsTeamGame() && ValidTopTierCombo(m.MapName, m.GameTypeRaw) {
			return playlist
		}
	}
	return ""
}

func (s SessionCorroborated) findSession(m *model.MatchRecord) *model.SchedulerSession {
	if m.StartTime.IsZero() {
		return nil
	}
	for i := range s.Sessions {
		sess := &s.Sessions[i]
		if !s.inWindow(m.StartTime, sess) {
			continue
		}
		if s.rosterOverlaps(m, sess) {
			return sess
		}
	}
	return nil
}

func (s SessionCorroborated) inWindow(start time.Time, sess *model.SchedulerSession) bool {
	if sess.Start.IsZero() {
		return false
	}
	lower := sess.Start.Add(s.UTCOffset).Add(-sessionTimeBuffer)
	if start.Before(lower) {
		return false
	}
	if !sess.End.IsZero() && start.After(sess.End.Add(s.UTCOffset)) {
		return false
	}
	return true
}

// rosterOverlaps requires at least 75% of the match's resolved players to
// appear in the session's rosters.
func (s SessionCorroborated) rosterOverlaps(m *model.MatchRecord, sess *model.SchedulerSession) bool {
	roster := make(map[string]bool)
	for _, id := range sess.Team1.PlayerIDs {
		roster[id] = true
	}
	for _, id := range sess.Team2.PlayerIDs {
		roster[id] = true
	}
	for _, name := range sess.Team1.PlayerNames {
		roster[strings.ToLower(name)] = true
	}
	for _, name := range sess.Team2.PlayerNames {
		roster[strings.ToLower(name)] = true
	}
	if len(roster) == 0 {
		return false
	}

	matched := 0
	for _, p := range m.Players {
		if roster[strings.ToLower(p.Name)] {
			matched++
			continue
		}
		if s.ResolveID != nil {
			if id := s.ResolveID(p.Name); id != "" && roster[id] {
				matched++
			}
		}
	}
	return matched*4 >= len(m.Players)*3
}

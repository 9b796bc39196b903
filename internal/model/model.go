package model

import (
	"strconv"
	"strings"
	"time"
)

// Team represents which side a player is on.
type Team int

const (
	TeamNone Team = 0
	TeamRed  Team = 1
	TeamBlue Team = 2
)

func (t Team) String() string {
	switch t {
	case TeamRed:
		return "Red"
	case TeamBlue:
		return "Blue"
	default:
		return ""
	}
}

// ParseTeam maps the sheet's team column to a Team. Anything that is not
// "Red" or "Blue" (FFA games, blank cells) is TeamNone.
func ParseTeam(s string) Team {
	switch strings.TrimSpace(s) {
	case "Red":
		return TeamRed
	case "Blue":
		return TeamBlue
	default:
		return TeamNone
	}
}

// GameType is the base game type from the "Game Type" field, not the variant
// name ("MLG Team Slayer" etc. are variants of these).
type GameType int

const (
	GameTypeUnknown GameType = iota
	GameTypeCTF
	GameTypeSlayer
	GameTypeOddball
	GameTypeBomb
	GameTypeKOTH
	GameTypeTerritories
	GameTypeJuggernaut
)

func (g GameType) String() string {
	switch g {
	case GameTypeCTF:
		return "CTF"
	case GameTypeSlayer:
		return "Team Slayer"
	case GameTypeOddball:
		return "Oddball"
	case GameTypeBomb:
		return "Bomb"
	case GameTypeKOTH:
		return "King of the Hill"
	case GameTypeTerritories:
		return "Territories"
	case GameTypeJuggernaut:
		return "Juggernaut"
	default:
		return "Unknown"
	}
}

// ParseGameType normalizes the raw "Game Type" field. The export files are
// not consistent about naming, so several spellings map to each type.
func ParseGameType(field string) GameType {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "ctf", "capture the flag", "capture_the_flag":
		return GameTypeCTF
	case "slayer", "team slayer":
		return GameTypeSlayer
	case "oddball":
		return GameTypeOddball
	case "assault", "bomb":
		return GameTypeBomb
	case "koth", "king of the hill", "king_of_the_hill", "king":
		return GameTypeKOTH
	case "territories":
		return GameTypeTerritories
	case "juggernaut":
		return GameTypeJuggernaut
	default:
		return GameTypeUnknown
	}
}

// Playlist names. Each playlist keeps its own XP/rank ledger.
const (
	PlaylistMLG4v4       = "MLG 4v4"
	PlaylistTeamHardcore = "Team Hardcore"
	PlaylistDoubleTeam   = "Double Team"
	PlaylistHeadToHead   = "Head to Head"
)

// AllPlaylists in output order.
var AllPlaylists = []string{
	PlaylistMLG4v4,
	PlaylistTeamHardcore,
	PlaylistDoubleTeam,
	PlaylistHeadToHead,
}

var playlistAliases = map[string]string{
	"Ranked MLG 4v4":       PlaylistMLG4v4,
	"Ranked Team Hardcore": PlaylistTeamHardcore,
	"Ranked Double Team":   PlaylistDoubleTeam,
	"Ranked Head to Head":  PlaylistHeadToHead,
}

// NormalizePlaylist converts playlist aliases ("Ranked MLG 4v4") to canonical
// names. Unknown names pass through unchanged.
func NormalizePlaylist(name string) string {
	if name == "" {
		return ""
	}
	if canonical, ok := playlistAliases[name]; ok {
		return canonical
	}
	return name
}

// PlayerResult is one player's row from the Post Game Report sheet.
type PlayerResult struct {
	Name         string  `json:"name"`
	IdentityID   string  `json:"identity_id,omitempty"`
	Team         Team    `json:"-"`
	TeamName     string  `json:"team"`
	Place        string  `json:"place,omitempty"`
	Score        string  `json:"score"`
	ScoreNumeric int     `json:"score_numeric"`
	Kills        int     `json:"kills"`
	Deaths       int     `json:"deaths"`
	Assists      int     `json:"assists"`
	KDA          float64 `json:"kda"`
	Suicides     int     `json:"suicides"`
	ShotsFired   int     `json:"shots_fired"`
	ShotsHit     int     `json:"shots_hit"`
	Accuracy     float64 `json:"accuracy"`
	Headshots    int     `json:"headshots"`

	// PreGameRank is written during ranked replay: the player's rank in the
	// match's playlist before this match was applied.
	PreGameRank int `json:"pre_game_rank,omitempty"`
}

// DetailedStats is one player's row from the Game Statistics sheet.
type DetailedStats struct {
	Player         string `json:"player"`
	EmblemURL      string `json:"emblem_url"`
	Kills          int    `json:"kills"`
	Assists        int    `json:"assists"`
	Deaths         int    `json:"deaths"`
	Headshots      int    `json:"headshots"`
	Betrayals      int    `json:"betrayals"`
	Suicides       int    `json:"suicides"`
	BestSpree      int    `json:"best_spree"`
	TotalTimeAlive int    `json:"total_time_alive"`
	CTFScores      int    `json:"ctf_scores"`
	CTFFlagSteals  int    `json:"ctf_flag_steals"`
	CTFFlagSaves   int    `json:"ctf_flag_saves"`
}

// MedalTally is one player's row from the Medal Stats sheet.
type MedalTally struct {
	Player string         `json:"player"`
	Medals map[string]int `json:"medals"`
}

// WeaponTally is one player's row from the Weapon Statistics sheet.
type WeaponTally struct {
	Player  string         `json:"player"`
	Weapons map[string]int `json:"weapons"`
}

// MatchRecord is one fully parsed game file. Immutable after parsing except
// for Playlist (set once by the classifier) and the PreGameRank annotations
// on player rows (set during replay).
type MatchRecord struct {
	SourceFile string `json:"source_file"`

	MapName     string   `json:"map"`
	GameType    GameType `json:"-"`
	GameTypeRaw string   `json:"game_type"`
	VariantName string   `json:"variant_name"`

	StartTimeRaw    string    `json:"start_time"`
	EndTimeRaw      string    `json:"end_time"`
	StartTime       time.Time `json:"-"`
	DurationRaw     string    `json:"duration"`
	DurationSeconds int       `json:"duration_seconds"`

	Players  []PlayerResult            `json:"players"`
	Versus   map[string]map[string]int `json:"versus,omitempty"`
	Detailed []DetailedStats           `json:"detailed_stats,omitempty"`
	Medals   []MedalTally              `json:"medals,omitempty"`
	Weapons  []WeaponTally             `json:"weapons,omitempty"`

	// Playlist is empty for unranked matches.
	Playlist string `json:"playlist,omitempty"`
}

// IsTeamGame reports whether both Red and Blue teams are present.
func (m *MatchRecord) IsTeamGame() bool {
	var red, blue bool
	for i := range m.Players {
		switch m.Players[i].Team {
		case TeamRed:
			red = true
		case TeamBlue:
			blue = true
		}
	}
	return red && blue
}

// TeamPlayers returns the names of players on the given team.
func (m *MatchRecord) TeamPlayers(t Team) []string {
	var names []string
	for i := range m.Players {
		if m.Players[i].Team == t {
			names = append(names, m.Players[i].Name)
		}
	}
	return names
}

// PlaylistStanding is one identity's state within one playlist. Rank is
// always recomputable from XP via the threshold table and is stored only so
// snapshots can be resumed without the XP config at hand.
type PlaylistStanding struct {
	XP          int `json:"xp"`
	Rank        int `json:"rank"`
	HighestRank int `json:"highest_rank"`
	Wins        int `json:"wins"`
	Losses      int `json:"losses"`
	Games       int `json:"games"`
}

// PersistentIdentity is a durable player entity, distinct from any single
// in-game display name. Provisional identities are hash-derived placeholders
// for names that never resolved through a hardware address.
type PersistentIdentity struct {
	ID          string   `json:"-"`
	DisplayName string   `json:"display_name"`
	Provisional bool     `json:"provisional"`
	Addresses   []string `json:"addresses,omitempty"`
	Aliases     []string `json:"aliases,omitempty"`

	Playlists map[string]*PlaylistStanding `json:"playlists"`

	// Cumulative stats from ranked games, consolidated across aliases.
	Kills      int `json:"kills"`
	Deaths     int `json:"deaths"`
	Assists    int `json:"assists"`
	Headshots  int `json:"headshots"`
	TotalGames int `json:"total_games"`
	Wins       int `json:"wins"`
	Losses     int `json:"losses"`

	// Overall XP/rank follow the primary-playlist convention: the values of
	// the highest-XP playlist. HighestRank is the max across playlists.
	XP          int `json:"xp"`
	Rank        int `json:"rank"`
	HighestRank int `json:"highest_rank"`

	SeriesWins   int `json:"series_wins"`
	SeriesLosses int `json:"series_losses"`
	TotalSeries  int `json:"total_series"`
}

// Standing returns the identity's standing in the playlist, creating a fresh
// one (xp 0, rank 1) on first use.
func (p *PersistentIdentity) Standing(playlist string) *PlaylistStanding {
	if p.Playlists == nil {
		p.Playlists = make(map[string]*PlaylistStanding)
	}
	s, ok := p.Playlists[playlist]
	if !ok {
		s = &PlaylistStanding{Rank: 1, HighestRank: 1}
		p.Playlists[playlist] = s
	}
	return s
}

// AddAlias records an in-game name for the identity if not already known.
func (p *PersistentIdentity) AddAlias(name string) {
	for _, a := range p.Aliases {
		if strings.EqualFold(a, name) {
			return
		}
	}
	p.Aliases = append(p.Aliases, name)
}

// HistoryEntry is one rank-change audit record.
type HistoryEntry struct {
	Timestamp  string `json:"timestamp"`
	SourceFile string `json:"source_file"`
	Map        string `json:"map"`
	Gametype   string `json:"gametype"`
	Playlist   string `json:"playlist"`
	XPChange   int    `json:"xp_change"`
	XPTotal    int    `json:"xp_total"`
	RankBefore int    `json:"rank_before"`
	RankAfter  int    `json:"rank_after"`
	Result     string `json:"result"`
}

// SeriesGame is one constituent match summary inside a Series.
type SeriesGame struct {
	Timestamp   string `json:"timestamp"`
	Map         string `json:"map"`
	Gametype    string `json:"gametype"`
	VariantName string `json:"variant_name"`
	Winner      string `json:"winner"` // "Red", "Blue", or "" for a tie
	SourceFile  string `json:"source_file"`
}

// Series is a maximal run of consecutive matches between an unchanged pair
// of team rosters. RedWins/BlueWins are the raw tallies; Winner applies the
// best-of threshold policy.
type Series struct {
	ID        string       `json:"series_id"`
	Playlist  string       `json:"playlist"`
	RedTeam   []string     `json:"red_team"`
	BlueTeam  []string     `json:"blue_team"`
	Games     []SeriesGame `json:"games"`
	RedWins   int          `json:"red_wins"`
	BlueWins  int          `json:"blue_wins"`
	Winner    string       `json:"winner"`      // "Red", "Blue", or "Tie"
	Type      string       `json:"series_type"` // "Bo3", "Bo5", "Bo7", "Custom"
	StartTime string       `json:"start_time"`
	EndTime   string       `json:"end_time"`
}

// SessionRoster is one team's participants in a scheduler session.
type SessionRoster struct {
	PlayerIDs   []string `json:"player_ids"`
	PlayerNames []string `json:"player_names"`
}

// SchedulerSession is an externally scheduled match window, used by the
// session-corroborated classification strategy. Times are UTC.
type SchedulerSession struct {
	Playlist string        `json:"playlist"`
	Start    time.Time     `json:"-"`
	End      time.Time     `json:"-"`
	StartRaw string        `json:"start_time"`
	EndRaw   string        `json:"end_time"` // empty for a still-open session
	Team1    SessionRoster `json:"team1"`
	Team2    SessionRoster `json:"team2"`
}

// timestampLayouts are the accepted wall-clock formats, in trial order. The
// export files contain hand-adjusted timestamps in several shapes.
var timestampLayouts = []string{
	"1/2/2006 15:04",
	"1/2/2006 15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"1-2-2006 15:04",
	"1-2-2006 15:04:05",
	"2006/01/02 15:04",
	"2006/01/02 15:04:05",
	"1/2/06 15:04",
	"1/2/06 15:04:05",
	"Jan 2 2006 15:04",
	"Jan 2, 2006 15:04",
	"January 2 2006 15:04",
	"January 2, 2006 15:04",
}

// ParseTimestamp parses a match timestamp in any of the accepted layouts.
// Returns the zero time if nothing matches; callers treat that as "unknown"
// and sort such matches first.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// ParseClockSeconds converts a "M:SS", "H:MM:SS", or bare-number string to
// total seconds. Malformed input parses to 0, never an error: the export
// files carry human-entered irregularities and one bad cell must not abort
// a run.
func ParseClockSeconds(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		nums := make([]int, len(parts))
		for i, p := range parts {
			p = strings.TrimSpace(p)
			// ":45" means zero minutes, forty-five seconds.
			if p == "" {
				continue
			}
			n, err := strconv.Atoi(p)
			if err != nil {
				return 0
			}
			nums[i] = n
		}
		switch len(nums) {
		case 2:
			return nums[0]*60 + nums[1]
		case 3:
			return nums[0]*3600 + nums[1]*60 + nums[2]
		default:
			return 0
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(f)
}

// ParseScore decodes the score column, which is a plain integer in most
// modes but a held-time clock string ("1:05") in Oddball. Returns the
// numeric value (seconds for clock strings) and the display form.
func ParseScore(raw string) (int, string) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, "0"
	}
	if strings.Contains(s, ":") {
		return ParseClockSeconds(s), s
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, s
	}
	return int(f), strconv.Itoa(int(f))
}

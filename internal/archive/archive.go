// Package archive mirrors each run's matches and standings into a SQLite
// database for ad-hoc querying. The JSON snapshot files remain the
// authoritative contract; the archive is rebuilt wholesale every run.
package archive

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/carnagereport/statspipe/internal/model"
	"github.com/carnagereport/statspipe/internal/outcome"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps a sql.DB for the stats archive.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database at the given path and applies
// the schema.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// ReplaceAll rewrites the archive from this run's matches and identities in
// one transaction.
func (db *DB) ReplaceAll(matches []*model.MatchRecord, identities map[string]*model.PersistentIdentity) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"match_players", "matches", "standings"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	matchStmt, err := tx.Prepare(`
		INSERT INTO matches(source_file, map_name, game_type, variant_name, playlist,
			start_time, duration_seconds, red_score, blue_score, winner_team)
		VALUES (?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer matchStmt.Close()

	playerStmt, err := tx.Prepare(`
		INSERT INTO match_players(source_file, identity_id, name, team, score,
			kills, deaths, assists, headshots, pre_game_rank)
		VALUES (?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer playerStmt.Close()

	for _, m := range matches {
		res := outcome.Score(m)
		winner := ""
		if res.WinnerTeam != model.TeamNone {
			winner = res.WinnerTeam.String()
		}
		if _, err := matchStmt.Exec(
			m.SourceFile, m.MapName, m.GameTypeRaw, m.VariantName, m.Playlist,
			m.StartTimeRaw, m.DurationSeconds, res.RedScore, res.BlueScore, winner,
		); err != nil {
			return fmt.Errorf("insert match %s: %w", m.SourceFile, err)
		}
		for i := range m.Players {
			p := &m.Players[i]
			if _, err := playerStmt.Exec(
				m.SourceFile, p.IdentityID, p.Name, p.TeamName, p.ScoreNumeric,
				p.Kills, p.Deaths, p.Assists, p.Headshots, p.PreGameRank,
			); err != nil {
				return fmt.Errorf("insert player %s/%s: %w", m.SourceFile, p.Name, err)
			}
		}
	}

	standingStmt, err := tx.Prepare(`
		INSERT INTO standings(identity_id, playlist, display_name, xp, rank,
			highest_rank, wins, losses, games)
		VALUES (?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer standingStmt.Close()

	for id, ident := range identities {
		for playlist, s := range ident.Playlists {
			if _, err := standingStmt.Exec(
				id, playlist, ident.DisplayName, s.XP, s.Rank,
				s.HighestRank, s.Wins, s.Losses, s.Games,
			); err != nil {
				return fmt.Errorf("insert standing %s/%s: %w", id, playlist, err)
			}
		}
	}
	return tx.Commit()
}

// StandingRow is one row of a playlist standings query.
type StandingRow struct {
	IdentityID  string
	DisplayName string
	XP          int
	Rank        int
	HighestRank int
	Wins        int
	Losses      int
	Games       int
}

// TopStandings returns a playlist's standings sorted by XP descending.
// limit <= 0 returns every row.
func (db *DB) TopStandings(playlist string, limit int) ([]StandingRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.conn.Query(`
		SELECT identity_id, display_name, xp, rank, highest_rank, wins, losses, games
		FROM standings WHERE playlist = ?
		ORDER BY xp DESC, display_name ASC LIMIT ?`, playlist, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StandingRow
	for rows.Next() {
		var r StandingRow
		if err := rows.Scan(&r.IdentityID, &r.DisplayName, &r.XP, &r.Rank,
			&r.HighestRank, &r.Wins, &r.Losses, &r.Games); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MatchRow is one archived match summary.
type MatchRow struct {
	SourceFile string
	MapName    string
	GameType   string
	Playlist   string
	StartTime  string
	RedScore   int
	BlueScore  int
	WinnerTeam string
}

// Matches returns the archived match log, newest first. An empty playlist
// returns every match, including unranked ones.
func (db *DB) Matches(playlist string) ([]MatchRow, error) {
	query := `
		SELECT source_file, map_name, game_type, playlist, start_time,
			red_score, blue_score, winner_team
		FROM matches`
	var args []any
	if playlist != "" {
		query += " WHERE playlist = ?"
		args = append(args, playlist)
	}
	query += " ORDER BY start_time DESC"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MatchRow
	for rows.Next() {
		var r MatchRow
		if err := rows.Scan(&r.SourceFile, &r.MapName, &r.GameType, &r.Playlist,
			&r.StartTime, &r.RedScore, &r.BlueScore, &r.WinnerTeam); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PlayerMatchRow is one of a player's appearances across the match log.
type PlayerMatchRow struct {
	SourceFile  string
	MapName     string
	GameType    string
	Playlist    string
	StartTime   string
	Team        string
	Score       int
	Kills       int
	Deaths      int
	Assists     int
	PreGameRank int
}

// PlayerMatches returns every match row for an identity, newest first.
func (db *DB) PlayerMatches(identityID string) ([]PlayerMatchRow, error) {
	rows, err := db.conn.Query(`
		SELECT m.source_file, m.map_name, m.game_type, m.playlist, m.start_time,
			p.team, p.score, p.kills, p.deaths, p.assists, p.pre_game_rank
		FROM match_players p
		JOIN matches m ON m.source_file = p.source_file
		WHERE p.identity_id = ?
		ORDER BY m.start_time DESC`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlayerMatchRow
	for rows.Next() {
		var r PlayerMatchRow
		if err := rows.Scan(&r.SourceFile, &r.MapName, &r.GameType, &r.Playlist,
			&r.StartTime, &r.Team, &r.Score, &r.Kills, &r.Deaths, &r.Assists,
			&r.PreGameRank); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// QueryRaw runs an arbitrary query and returns columns plus stringified rows.
func (db *DB) QueryRaw(query string) ([]string, [][]string, error) {
	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out [][]string
	for rows.Next() {
		raw := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make([]string, len(cols))
		for i, v := range raw {
			if v.Valid {
				row[i] = v.String
			}
		}
		out = append(out, row)
	}
	return cols, out, rows.Err()
}

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/carnagereport/statspipe/internal/archive"
)

var sqlCmd = &cobra.Command{
	Use:   "sql <query>",
	Short: "Run a raw SQL query against the match archive",
	Long: `Run an arbitrary SQL query against the match archive and print results as a table.

Schema overview:
  matches(source_file, map_name, game_type, variant_name, playlist,
    start_time, duration_seconds, red_score, blue_score, winner_team)
  match_players(source_file, identity_id TEXT, name, team, score, kills,
    deaths, assists, headshots, pre_game_rank)
  standings(identity_id TEXT, playlist, display_name, xp, rank,
    highest_rank, wins, losses, games)

Note: identity_id is stored as TEXT. Use quotes:
  WHERE identity_id = '210187331066396672'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSQL,
}

func runSQL(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := archive.Open(cfg.ArchivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer db.Close()

	cols, rows, err := db.QueryRaw(strings.Join(args, " "))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("(no rows)")
		return nil
	}

	table := tablewriter.NewTable(os.Stdout, tablewriter.WithConfig(tablewriter.Config{
		Row:    tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignRight}},
		Header: tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignCenter}},
	}))

	colsAny := make([]any, len(cols))
	for i, c := range cols {
		colsAny[i] = c
	}
	table.Header(colsAny...)

	for _, row := range rows {
		rowAny := make([]any, len(row))
		for i, v := range row {
			rowAny[i] = v
		}
		table.Append(rowAny...)
	}
	table.Render()
	fmt.Fprintf(os.Stdout, "\n(%d rows)\n", len(rows))
	return nil
}

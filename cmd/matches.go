package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/carnagereport/statspipe/internal/archive"
	"github.com/carnagereport/statspipe/internal/report"
)

var matchesAll bool

var matchesCmd = &cobra.Command{
	Use:   "matches [playlist]",
	Short: "Show the archived match log",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMatches,
}

func init() {
	matchesCmd.Flags().BoolVar(&matchesAll, "all", false, "include unranked matches")
}

func runMatches(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := archive.Open(cfg.ArchivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer db.Close()

	playlist := ""
	if len(args) == 1 {
		if playlist, err = matchPlaylist(args[0]); err != nil {
			return err
		}
	}

	rows, err := db.Matches(playlist)
	if err != nil {
		return err
	}
	if playlist == "" && !matchesAll {
		ranked := rows[:0]
		for _, r := range rows {
			if r.Playlist != "" {
				ranked = append(ranked, r)
			}
		}
		rows = ranked
	}
	report.MatchLog(os.Stdout, rows)
	return nil
}

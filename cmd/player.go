package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/carnagereport/statspipe/internal/archive"
	"github.com/carnagereport/statspipe/internal/report"
)

var playerCmd = &cobra.Command{
	Use:   "player <identity-id> [<identity-id>...]",
	Short: "Show the per-match log for one or more players",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPlayer,
}

func runPlayer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := archive.Open(cfg.ArchivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer db.Close()

	for _, id := range args {
		rows, err := db.PlayerMatches(id)
		if err != nil {
			return fmt.Errorf("query matches for %s: %w", id, err)
		}
		if len(rows) == 0 {
			fmt.Fprintf(os.Stderr, "No matches found for identity %s\n", id)
			continue
		}
		fmt.Fprintln(os.Stdout)
		report.Matches(os.Stdout, rows)
	}
	return nil
}

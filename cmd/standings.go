package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/carnagereport/statspipe/internal/archive"
	"github.com/carnagereport/statspipe/internal/model"
	"github.com/carnagereport/statspipe/internal/report"
)

var standingsLimit int

var standingsCmd = &cobra.Command{
	Use:   "standings [playlist]",
	Short: "Show the ranking ladder for a playlist",
	Long: `Show the ranking ladder for a playlist, ordered by XP.

With no argument, every playlist's ladder is printed in turn. Playlist names
match case-insensitively: "mlg 4v4", "Double Team", "head to head".`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStandings,
}

func init() {
	standingsCmd.Flags().IntVar(&standingsLimit, "limit", 0, "show only the top N players (0 = all)")
}

func runStandings(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := archive.Open(cfg.ArchivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer db.Close()

	playlists := model.AllPlaylists
	if len(args) == 1 {
		playlist, err := matchPlaylist(args[0])
		if err != nil {
			return err
		}
		playlists = []string{playlist}
	}

	for _, playlist := range playlists {
		rows, err := db.TopStandings(playlist, standingsLimit)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintln(os.Stdout)
		report.Standings(os.Stdout, playlist, rows)
	}
	return nil
}

func matchPlaylist(arg string) (string, error) {
	for _, p := range model.AllPlaylists {
		if strings.EqualFold(p, arg) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown playlist %q (want one of: %s)", arg, strings.Join(model.AllPlaylists, ", "))
}

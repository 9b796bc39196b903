package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/carnagereport/statspipe/internal/model"
	"github.com/carnagereport/statspipe/internal/report"
)

var seriesCmd = &cobra.Command{
	Use:   "series [playlist]",
	Short: "Show detected best-of series from the last run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSeries,
}

func runSeries(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := filepath.Join(cfg.OutputDir, "series.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s (has a run completed?): %w", path, err)
	}
	var byPlaylist map[string][]model.Series
	if err := json.Unmarshal(data, &byPlaylist); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	playlists := model.AllPlaylists
	if len(args) == 1 {
		playlist, err := matchPlaylist(args[0])
		if err != nil {
			return err
		}
		playlists = []string{playlist}
	}

	for _, playlist := range playlists {
		all := byPlaylist[playlist]
		if len(all) == 0 {
			continue
		}
		fmt.Fprintln(os.Stdout)
		report.Series(os.Stdout, playlist, all)
	}
	return nil
}

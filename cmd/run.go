package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/carnagereport/statspipe/internal/pipeline"
	"github.com/carnagereport/statspipe/internal/report"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process all match exports and rewrite the snapshot outputs",
	Args:  cobra.NoArgs,
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	p, err := pipeline.New(cfg, newLogger())
	if err != nil {
		return err
	}
	res, err := p.Run()
	if err != nil {
		return err
	}

	mode := "incremental"
	if res.FullRebuild {
		mode = "full rebuild"
	}
	fmt.Fprintf(os.Stdout, "run %s (%s): %d files, %d ranked, %d new, %d identities\n",
		res.RunID, mode, res.Files, res.Ranked, res.NewFiles, res.Identities)
	for playlist, all := range res.Series {
		fmt.Fprintf(os.Stdout, "  %s: %d series\n", playlist, len(all))
	}

	if len(res.Warnings) > 0 {
		fmt.Fprintln(os.Stdout)
		report.Warnings(os.Stdout, res.Warnings)
	}
	return nil
}

package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/kosaladathapththu/Code-Evolution-Tracker/pkg/version"
)

type inspectOutput struct {
	version.TimelineView
	Analytics *version.Report `json:"analytics"`
	Files     []string        `json:"journalFiles"`
}

func newInspectCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print the recovered timeline and analytics as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load(cmd)
			if err != nil {
				return err
			}
			if err := requireJournal(cfg); err != nil {
				return err
			}

			store, journal, err := openSession(cfg, log, nil)
			if err != nil {
				return err
			}
			defer closeJournal(journal, log)

			files, err := journal.Files()
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(inspectOutput{
				TimelineView: store.Timeline(),
				Analytics:    store.Analytics(),
				Files:        files,
			})
		},
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCompactCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Rewrite the journal as a single snapshot",
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

			if err := store.Compact(); err != nil {
				return err
			}
			files, err := journal.Files()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s; %d journal file(s)\n", describe(store), len(files))
			return nil
		},
	}
}

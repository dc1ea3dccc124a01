package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kosaladathapththu/Code-Evolution-Tracker/internal/config"
	"github.com/kosaladathapththu/Code-Evolution-Tracker/internal/logger"
	"github.com/kosaladathapththu/Code-Evolution-Tracker/internal/metrics"
	"github.com/kosaladathapththu/Code-Evolution-Tracker/pkg/version"
)

var errNoJournal = errors.New("no journal configured; pass --journal or set journal.path")

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "debugtimeline",
		Short: "Record debugging steps as a timeline of code versions",
		Long: `debugtimeline keeps one debugging session: every step records the code,
a note and an error classification as a new version. Versions can be
undone, marked bug-free and jumped back to, and the timeline reports
error-type analytics.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./debugtimeline.yaml when present)")
	config.RegisterFlags(root.PersistentFlags())

	load := func(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
		cfg, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return nil, nil, err
		}
		log := logger.New(logger.Config{
			Level:  cfg.Log.Level,
			Pretty: cfg.Log.Pretty,
			Output: cmd.ErrOrStderr(),
		})
		return cfg, log, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newInspectCmd(load),
		newCompactCmd(load),
	)
	return root
}

type loadFunc func(cmd *cobra.Command) (*config.Config, *logger.Logger, error)

// openSession recovers the session from the configured journal, or starts an
// in-memory session when no journal path is set. The returned journal is nil
// for in-memory sessions.
func openSession(cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*version.VersionStore, *version.WALJournal, error) {
	storeLog := log.Component("store").Zerolog()

	if cfg.Journal.Path == "" {
		return version.NewVersionStore(version.WithLogger(storeLog)), nil, nil
	}

	jlog := log.Component("journal")
	j, err := version.OpenWALJournal(cfg.Journal.Path,
		version.WithMaxFileSize(cfg.Journal.MaxFileSize),
		version.WithJournalObserver(func(op string, d time.Duration, err error) {
			if m != nil {
				m.RecordJournalOperation(op, d, err)
			}
			jlog.LogJournalOperation(op, d, err)
		}),
	)
	if err != nil {
		return nil, nil, err
	}

	store, stats, err := version.Recover(j, version.WithLogger(storeLog))
	if err != nil {
		j.Close()
		return nil, nil, err
	}
	if stats.TornTail {
		log.Warn().Str("journal", cfg.Journal.Path).Msg("journal had a torn tail; incomplete write discarded")
	}
	if stats.UncommittedTxns > 0 {
		log.Warn().Int("uncommitted", stats.UncommittedTxns).Msg("skipped uncommitted journal records")
	}
	return store, j, nil
}

func requireJournal(cfg *config.Config) error {
	if cfg.Journal.Path == "" {
		return errNoJournal
	}
	return nil
}

func closeJournal(j *version.WALJournal, log *logger.Logger) {
	if j == nil {
		return
	}
	if err := j.Close(); err != nil {
		log.Error().Err(err).Msg("journal close failed")
	}
}

func describe(store *version.VersionStore) string {
	total, bugFree := store.Counts()
	return fmt.Sprintf("session %s: %d versions, %d bug-free", store.SessionID(), total, bugFree)
}

package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded runs, or show one with its checkpoints and act counts",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRuns,
	}
	cmd.Flags().IntVar(&runsLimit, "limit", 20, "Number of runs to list")

	RootCmd.AddCommand(cmd)
}

var runsLimit int

type runDetail struct {
	store.Run
	Checkpoints []store.Checkpoint `json:"checkpoints"`
	Acts        map[string]int64   `json:"acts"`
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Postgres.DSN == "" {
		return errors.New("database.postgres.dsn is not configured")
	}
	ctx := cmd.Context()
	s, err := store.New(ctx, cfg.Database.Postgres.DSN, "", zap.NewNop())
	if err != nil {
		return err
	}
	defer s.Close()

	var out any
	if len(args) == 0 {
		if out, err = s.Runs(ctx, runsLimit); err != nil {
			return err
		}
	} else {
		d := runDetail{}
		if d.Run, err = s.Run(ctx, args[0]); err != nil {
			return err
		}
		if d.Checkpoints, err = s.Checkpoints(ctx, args[0]); err != nil {
			return err
		}
		if d.Acts, err = s.ActCounts(ctx, args[0]); err != nil {
			return err
		}
		out = d
	}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}

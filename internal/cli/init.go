package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/dataset"
	"github.com/nidhogg/agora/internal/platform"
	"github.com/nidhogg/agora/internal/simulator"
)

func init() {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Build the initial environment from the dataset and replay history into agent memory",
		Args:  cobra.NoArgs,
		RunE:  runInit,
	}

	RootCmd.AddCommand(cmd)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runInit(cmd *cobra.Command, _ []string) (err error) {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	rt, err := newRuntime(ctx, "init")
	if err != nil {
		return err
	}
	defer func() { rt.close(err) }()

	path, err := initialize(ctx, rt)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

// initialize runs init against a fresh environment and returns the
// checkpoint path.
func initialize(ctx context.Context, rt *runtime) (string, error) {
	data, err := dataset.Load(rt.cfg.DataPath)
	if err != nil {
		return "", err
	}
	factory, err := rt.factory()
	if err != nil {
		return "", err
	}
	env := platform.NewEnvironment(rt.rec, rt.embedder, rt.observers, rt.logger)
	sim, err := simulator.New(rt.simConfig(), data, env, factory, rt.logger)
	if err != nil {
		return "", err
	}
	defer sim.Close()

	path, err := sim.Init(ctx)
	if err != nil {
		return "", fmt.Errorf("init: %w", err)
	}
	rt.syncGraph(ctx, env)
	return path, nil
}

func (rt *runtime) syncGraph(ctx context.Context, env *platform.Environment) {
	if rt.graph == nil {
		return
	}
	if err := rt.graph.SyncUsers(ctx, env.Users()); err != nil {
		rt.logger.Warn("graph user sync failed", zap.Error(err))
	}
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/api"
	"github.com/nidhogg/agora/internal/dataset"
	"github.com/nidhogg/agora/internal/platform"
	"github.com/nidhogg/agora/internal/simulator"
)

var (
	fromFlag   string
	listenFlag string
	serveFlag  bool
	doInitFlag bool
)

func init() {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the simulation from a checkpoint",
		Long: "Loads a checkpoint (--from, load_model, or <save_path>/model_init) and steps the simulation " +
			"until time_sim_end, checkpointing at every simulated midnight.",
		Args: cobra.NoArgs,
		RunE: runSimulate,
	}
	cmd.Flags().StringVar(&fromFlag, "from", "", "Checkpoint model.json to resume from")
	cmd.Flags().StringVar(&listenFlag, "listen", "", "Serve the status API on this address while running (e.g. :8080)")
	cmd.Flags().BoolVar(&serveFlag, "serve", false, "Serve the status API on server.listen while running")
	cmd.Flags().BoolVar(&doInitFlag, "init", false, "Run init first when the checkpoint does not exist")

	RootCmd.AddCommand(cmd)
}

// checkpointPath resolves the checkpoint to resume from.
func checkpointPath(from, loadModel, savePath string) string {
	path := from
	if path == "" {
		path = loadModel
	}
	if path == "" {
		path = filepath.Join(savePath, "model_init")
	}
	if filepath.Ext(path) != ".json" {
		path = filepath.Join(path, platform.CheckpointFile)
	}
	return path
}

func runSimulate(cmd *cobra.Command, _ []string) (err error) {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	rt, err := newRuntime(ctx, "simulate")
	if err != nil {
		return err
	}
	defer func() { rt.close(err) }()

	path := checkpointPath(fromFlag, rt.cfg.LoadModel, rt.cfg.SavePath)
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		if !doInitFlag {
			return fmt.Errorf("checkpoint %s does not exist; run init or pass --init", path)
		}
		if path, err = initialize(ctx, rt); err != nil {
			return err
		}
	}

	data, err := dataset.Load(rt.cfg.DataPath)
	if err != nil {
		return err
	}
	env, err := platform.Load(ctx, path, rt.deps(), rt.rec, rt.embedder, rt.observers, rt.logger)
	if err != nil {
		return err
	}
	rt.backfill(ctx, env)

	factory, err := rt.factory()
	if err != nil {
		return err
	}
	sim, err := simulator.New(rt.simConfig(), data, env, factory, rt.logger)
	if err != nil {
		return err
	}
	defer sim.Close()

	addr := listenFlag
	if addr == "" && serveFlag {
		addr = rt.cfg.Server.Listen
	}
	var srv *http.Server
	if addr != "" {
		srv = rt.serve(env, addr)
	}

	start := time.Now()
	err = sim.Run(ctx)
	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(sctx)
		cancel()
	}
	if err != nil {
		return fmt.Errorf("simulate: %w", err)
	}
	stats := env.Stats()
	rt.logger.Info("simulation finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("messages", stats.Messages),
		zap.Int("log", stats.Log))
	return nil
}

// serve starts the status API in the background.
func (rt *runtime) serve(env *platform.Environment, addr string) *http.Server {
	h := api.NewHandler(env, rt.runID, rt.logger)
	if rt.index != nil {
		h.WithSimilar(rt.index)
	}
	if rt.graph != nil {
		h.WithInfluence(rt.graph)
	}
	if rt.mirrors != nil {
		h.WithMirrors(rt.mirrors)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		rt.logger.Info("status API listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("status API error", zap.Error(err))
		}
	}()
	return srv
}

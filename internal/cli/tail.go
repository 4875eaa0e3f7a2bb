package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/events"
)

var (
	tailFrom string
	tailJSON bool
)

func init() {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the event stream of running simulations",
		Args:  cobra.NoArgs,
		RunE:  runTail,
	}
	cmd.Flags().StringVar(&tailFrom, "from", "$", `Stream id to start after ("0" replays the whole stream)`)
	cmd.Flags().BoolVar(&tailJSON, "json", false, "Print events as JSON lines")

	RootCmd.AddCommand(cmd)
}

func formatEvent(ev events.Event) string {
	line := fmt.Sprintf("%s %-10s", ev.SimTime, ev.Kind)
	if ev.UserID != "" {
		line += " user=" + ev.UserID
	}
	if ev.MessageID != "" {
		line += " message=" + ev.MessageID
	}
	if len(ev.Payload) > 0 {
		line += " " + string(ev.Payload)
	}
	return line
}

func runTail(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Redis.URL == "" {
		return errors.New("database.redis.url is not configured")
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	bus, err := events.New(cfg.Database.Redis.URL, cfg.Database.Redis.Stream, zap.NewNop())
	if err != nil {
		return err
	}
	defer bus.Close()

	out := cmd.OutOrStdout()
	for ev := range bus.Subscribe(ctx, tailFrom) {
		if tailJSON {
			b, _ := json.Marshal(ev)
			fmt.Fprintln(out, string(b))
			continue
		}
		fmt.Fprintln(out, formatEvent(ev))
	}
	return nil
}

package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nidhogg/agora/internal/platform"
)

func init() {
	cmd := &cobra.Command{
		Use:   "inspect <checkpoint>",
		Short: "Verify a checkpoint and print a summary",
		Long:  "Reads a checkpoint directory or model.json, checks message and user id integrity and prints counts as JSON. Exits non-zero on a corrupt checkpoint.",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
	cmd.Flags().IntVar(&topFlag, "top", 5, "Number of most-liked messages to list")

	RootCmd.AddCommand(cmd)
}

var topFlag int

type topMessage struct {
	ID       string `json:"id"`
	AuthorID string `json:"author_id"`
	Likes    int    `json:"likes"`
	Reposts  int    `json:"reposts"`
	Text     string `json:"text"`
}

type checkpointSummary struct {
	Now      string         `json:"now"`
	Interval string         `json:"interval"`
	Users    int            `json:"users"`
	Agents   map[string]int `json:"agents"`
	Messages map[string]int `json:"messages"`
	Acts     map[string]int `json:"acts"`
	Top      []topMessage   `json:"top_liked"`
}

func summarize(cp platform.Checkpoint, top int) checkpointSummary {
	s := checkpointSummary{
		Now:      cp.Env.Now,
		Interval: cp.Env.Interval,
		Users:    len(cp.Env.Users),
		Agents:   map[string]int{},
		Messages: map[string]int{},
		Acts:     map[string]int{},
	}
	for _, u := range cp.Env.Users {
		s.Agents[u.Agent.Type]++
	}
	var origins []topMessage
	for _, m := range cp.Env.Messages {
		s.Messages[m.Type]++
		if m.IsOrigin() {
			origins = append(origins, topMessage{
				ID:       m.ID,
				AuthorID: m.AuthorID,
				Likes:    len(m.LikedBy),
				Reposts:  len(m.RepostedBy),
				Text:     truncate(m.Text, 80),
			})
		}
	}
	for _, e := range cp.Env.Log {
		s.Acts[string(e.Act.Kind)]++
	}
	sort.SliceStable(origins, func(i, j int) bool { return origins[i].Likes > origins[j].Likes })
	if len(origins) > top {
		origins = origins[:top]
	}
	s.Top = origins
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := checkpointPath(args[0], "", "")
	cp, err := platform.ReadCheckpoint(path)
	if err != nil {
		return err
	}
	if err := cp.Verify(); err != nil {
		return fmt.Errorf("inspect %s: %w", path, err)
	}
	b, _ := json.MarshalIndent(summarize(cp, topFlag), "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}

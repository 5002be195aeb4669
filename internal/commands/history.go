package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/smartparent/companion/internal/channel"
	"github.com/smartparent/companion/internal/history"
)

var historyLimit int

var HistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past conversations",
	Long:  `Fetch and print your saved conversations, newest first.`,
	RunE:  runHistory,
}

func init() {
	HistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of entries to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	provider, cfg, err := restoreProvider()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	log := history.NewLog(cfg.HistoryBaseURL, channel.NewCaller(), provider)
	if err := log.LoadOnce(ctx); err != nil {
		return err
	}

	entries := log.Entries()
	if len(entries) == 0 {
		fmt.Println(dimStyle.Render("No conversations yet."))
		return nil
	}
	if historyLimit > 0 && len(entries) > historyLimit {
		entries = entries[:historyLimit]
	}

	for _, e := range entries {
		when := e.Timestamp
		if t, err := time.Parse(time.RFC3339, e.Timestamp); err == nil {
			when = t.Local().Format("Mon 2 Jan 2006 15:04")
		}
		fmt.Println(dimStyle.Render(when))
		fmt.Println(questionStyle.Render("You: ") + e.Question)
		fmt.Println("     " + e.Response)
		fmt.Println()
	}
	return nil
}

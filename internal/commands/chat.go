package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/smartparent/companion/internal/channel"
	"github.com/smartparent/companion/internal/config"
	"github.com/smartparent/companion/internal/history"
	"github.com/smartparent/companion/internal/session"
	"github.com/smartparent/companion/internal/store"
	"github.com/smartparent/companion/internal/tui"
)

var chatTimeout int

var ChatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start a conversation",
	Long: `Open the interactive chat. Messages are routed to the right
specialist automatically; an unfinished conversation picks up where it left
off. After five minutes of inactivity you are signed out.`,
	RunE: runChat,
}

func init() {
	ChatCmd.Flags().IntVar(&chatTimeout, "timeout", 0, "Inactivity sign-out in seconds (overrides config)")
}

func runChat(cmd *cobra.Command, args []string) error {
	provider, cfg, err := restoreProvider()
	if err != nil {
		return err
	}

	// Force a refresh up front so an expired saved token fails here with a
	// clear message instead of mid-conversation.
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	if _, err := provider.Token(ctx, true); err != nil {
		return fmt.Errorf("session expired: run 'companion login' again (%w)", err)
	}

	kv, err := store.OpenFile(config.SessionPath())
	if err != nil {
		return err
	}

	caller := channel.NewCaller()
	historian := history.NewLog(cfg.HistoryBaseURL, caller, provider)
	if err := historian.LoadOnce(ctx); err != nil {
		// Chatting works without the backlog; saves still go through.
		fmt.Println(dimStyle.Render(fmt.Sprintf("Note: could not load history: %v", err)))
	}

	mgr, err := session.NewManager(session.NewRepository(kv), caller, provider, historian, session.Endpoints{
		API:          cfg.APIBaseURL,
		Triage:       cfg.TriageBaseURL,
		Psychologist: cfg.PsychologistBaseURL,
	})
	if err != nil {
		return err
	}
	defer mgr.Close()

	timeout := time.Duration(cfg.InactivityTimeout) * time.Second
	if chatTimeout > 0 {
		timeout = time.Duration(chatTimeout) * time.Second
	}

	// SignOut runs the credentials handler, which clears the config file.
	return tui.Run(mgr, timeout, cfg.UserEmail, provider.SignOut)
}

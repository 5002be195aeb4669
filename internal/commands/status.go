package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/smartparent/companion/internal/auth"
	"github.com/smartparent/companion/internal/config"
	"github.com/smartparent/companion/internal/persona"
	"github.com/smartparent/companion/internal/session"
	"github.com/smartparent/companion/internal/store"
)

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sign-in and conversation status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println("Smart Parent Companion")
	fmt.Println()

	if cfg.AccessToken != "" {
		fmt.Println("Account:  signed in")
		if cfg.UserEmail != "" {
			fmt.Printf("          %s\n", cfg.UserEmail)
		}
		if cfg.TokenExpiry > 0 {
			if auth.IsTokenExpiringSoon(cfg.TokenExpiry, 0) {
				fmt.Println(dimStyle.Render("          access token expired (will refresh on next use)"))
			} else {
				fmt.Printf("          token valid until %s\n",
					time.Unix(cfg.TokenExpiry, 0).Local().Format(time.RFC1123))
			}
		}
	} else {
		fmt.Println("Account:  not signed in")
		fmt.Println(dimStyle.Render("          run 'companion login' to sign in"))
	}
	fmt.Println()

	kv, err := store.OpenFile(config.SessionPath())
	if err == nil {
		if st, err := session.NewRepository(kv).Load(); err == nil {
			fmt.Printf("Session:  %s\n", st.Phase())
			if st.ActivePersona != persona.Inactive && st.ActivePersona != "" {
				fmt.Printf("          talking to the %s\n", st.ActivePersona)
			}
			if st.FollowUpMode {
				c, r := st.CollectedCount()
				fmt.Printf("          %d of %d details collected\n", c, r)
			}
			if len(st.Transcript) > 0 {
				fmt.Printf("          %d messages in the open conversation\n", len(st.Transcript))
			}
		}
	}
	fmt.Println()

	fmt.Printf("Services: %s\n", cfg.APIBaseURL)
	fmt.Printf("          %s\n", cfg.TriageBaseURL)
	fmt.Printf("          %s\n", cfg.PsychologistBaseURL)
	fmt.Printf("          %s\n", cfg.HistoryBaseURL)
	fmt.Println()
	fmt.Printf("Config:   %s\n", config.GetConfigPath())
	return nil
}

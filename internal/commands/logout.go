package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smartparent/companion/internal/config"
	"github.com/smartparent/companion/internal/store"
)

var LogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out of Smart Parent",
	Long: `Sign out locally: clears the stored credentials and wipes any
in-progress conversation state. Chat history stays on the server.`,
	RunE: runLogout,
}

func runLogout(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	wasSignedIn := cfg.AccessToken != ""
	cfg.ClearCredentials()
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}

	// The session scratch file is tied to the signed-in identity; a stale
	// conversation must not leak into the next sign-in.
	kv, err := store.OpenFile(config.SessionPath())
	if err == nil {
		if err := kv.Clear(); err != nil {
			fmt.Println(dimStyle.Render(fmt.Sprintf("Note: could not clear session state: %v", err)))
		}
	}

	if wasSignedIn {
		fmt.Println(successStyle.Render("Signed out."))
	} else {
		fmt.Println(dimStyle.Render("Already signed out."))
	}
	return nil
}

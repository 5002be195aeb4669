package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/smartparent/companion/internal/auth"
	"github.com/smartparent/companion/internal/config"
)

var signup bool

var LoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to Smart Parent",
	Long: `Sign in to your Smart Parent account with email and password.

Credentials are stored in ` + "`~/.smartparent/config.yaml`" + ` and refreshed
automatically while you chat. Use --signup to create a new account instead.`,
	RunE: runLogin,
}

func init() {
	LoginCmd.Flags().BoolVar(&signup, "signup", false, "Create a new account instead of signing in")
}

func runLogin(cmd *cobra.Command, args []string) error {
	fmt.Println(titleStyle.Render(boxStyle.Render("Smart Parent Companion")))
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Email: ")
	email, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read email: %w", err)
	}
	fmt.Print("Password: ")
	password, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	email = strings.TrimSpace(email)
	password = strings.TrimSpace(password)
	fmt.Println()

	provider := auth.New(cfg.APIBaseURL)
	provider.SetCredentialsHandler(persistCredentials(cfg))

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	if signup {
		err = provider.SignUp(ctx, email, password)
	} else {
		err = provider.SignIn(ctx, email, password)
	}
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return fmt.Errorf("sign-in rejected: %w", err)
		}
		return err
	}

	user := provider.CurrentUser()
	if signup {
		fmt.Println(successStyle.Render("Account created."))
	}
	fmt.Println(successStyle.Render(fmt.Sprintf("Signed in as %s", user.Email)))
	fmt.Println()
	fmt.Println(dimStyle.Render("Run 'companion chat' to start a conversation."))
	return nil
}

// persistCredentials writes refreshed tokens back to the config file so the
// next invocation picks them up.
func persistCredentials(cfg *config.Config) func(access, refresh string, expiry int64, user *auth.User) {
	return func(access, refresh string, expiry int64, user *auth.User) {
		cfg.AccessToken = access
		cfg.RefreshToken = refresh
		cfg.TokenExpiry = expiry
		if user != nil {
			cfg.UserID = user.ID
			cfg.UserEmail = user.Email
		} else {
			cfg.UserID = ""
			cfg.UserEmail = ""
		}
		if err := config.Save(cfg); err != nil {
			fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("Warning: could not save credentials: %v", err)))
		}
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/smartparent/companion/internal/commands"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=X.Y.Z"
	Version = "0.0.0-dev"
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "companion",
	Short: "Smart Parent - pediatric health and parenting guidance",
	Long: `Smart Parent Companion answers questions about your child's health
and behavior, routing each message to the right specialist.

Quick Start:
  companion login            Sign in (first time)
  companion chat             Start a conversation
  companion history          Review past conversations

Commands:
  login      Sign in (or --signup to create an account)
  logout     Sign out and clear local session state
  chat       Interactive conversation
  history    Show saved conversations
  status     Show sign-in and session status

Config: ~/.smartparent/config.yaml`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		} else {
			logrus.SetLevel(logrus.WarnLevel)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(commands.LoginCmd)
	rootCmd.AddCommand(commands.LogoutCmd)
	rootCmd.AddCommand(commands.ChatCmd)
	rootCmd.AddCommand(commands.HistoryCmd)
	rootCmd.AddCommand(commands.StatusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

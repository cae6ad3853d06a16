package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"

	"conch/internal/tracker"
	"conch/internal/ui"
)

var trackerCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Manage the AniList progress sync credential",
}

var trackerLoginCmd = &cobra.Command{
	Use:   "login [token]",
	Short: "Store an AniList access token in the system keyring",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var token string
		if len(args) == 1 {
			token = args[0]
		} else {
			var err error
			if token, err = ui.Input("AniList token"); err != nil {
				return err
			}
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return errors.New("empty token")
		}
		if err := tracker.SetToken(token); err != nil {
			return fmt.Errorf("saving token: %w", err)
		}
		fmt.Println("AniList token saved. Set remote_sync = true to sync progress.")
		return nil
	},
}

var trackerLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the AniList access token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := tracker.DeleteToken(); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("removing token: %w", err)
		}
		fmt.Println("AniList token removed.")
		return nil
	},
}

func init() {
	trackerCmd.AddCommand(trackerLoginCmd)
	trackerCmd.AddCommand(trackerLogoutCmd)
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

const (
	methodLogin      = "login"
	methodLoggedUser = "frappe.auth.get_logged_user"
)

func newLoginCmd(app *App) *cobra.Command {
	var (
		user  string
		roles []string
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Request a session token from the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				user = app.Config.User
			}
			if len(roles) == 0 {
				roles = app.Config.Roles
			}
			resp, err := app.rpc().Call(cmd.Context(), methodLogin, map[string]any{"usr": user, "roles": roles})
			if err != nil {
				return err
			}
			var msg struct {
				Token string `json:"token"`
				User  string `json:"user"`
			}
			if err := resp.Decode(&msg); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "export DESK_TOKEN=%s\n", msg.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "as", "", "user to log in as (default --user)")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "roles to claim (default --roles)")
	return cmd
}

func newWhoamiCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the user the server sees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := app.rpc().Call(cmd.Context(), methodLoggedUser, nil)
			if err != nil {
				return err
			}
			var user string
			if err := resp.Decode(&user); err != nil {
				return err
			}
			fmt.Fprintln(out(cmd), user)
			return nil
		},
	}
}

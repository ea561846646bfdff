// Package cli implements the desk command line: list, form and bulk
// commands driven through the same controllers an interactive desk uses.
package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/matthewbaird/desk/internal/config"
	"github.com/matthewbaird/desk/internal/prefs"
	"github.com/matthewbaird/desk/internal/rpc"
	"github.com/matthewbaird/desk/internal/session"
	"github.com/matthewbaird/desk/internal/ui"
)

type App struct {
	Config    config.Config
	AssumeYes bool

	client *rpc.Client
	sess   *session.Session
	prefs  prefs.Store
}

func NewRootCmd() *cobra.Command {
	app := &App{Config: config.FromEnv(os.Getenv)}

	cmd := &cobra.Command{
		Use:           "desk",
		Short:         "Document desk client",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: strings.TrimSpace(`
  # Get a token from a dev server started with DESK_JWT_SECRET
  desk login --as jane@example.com --role "Sales User"

  # Lists
  desk list "Sales Order" --filter docstatus=0 --sort transaction_date
  desk list --route "List/ToDo/Kanban/status"

  # Forms
  desk new "Sales Order" --set customer="Acme Corp" --row items:item_code=WIDGET,qty=3 --submit
  desk cancel "Sales Order" SO-00001

  # Bulk actions and live updates
  desk bulk submit "Sales Order" SO-00002 SO-00003
  desk watch ToDo
`),
	}
	app.Config.RegisterFlags(cmd.PersistentFlags())
	cmd.PersistentFlags().BoolVarP(&app.AssumeYes, "yes", "y", false, "answer yes to every confirmation")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return app.Config.Resolve()
	}
	cmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		return app.close()
	}

	cmd.AddCommand(newLoginCmd(app))
	cmd.AddCommand(newWhoamiCmd(app))
	cmd.AddCommand(newListCmd(app))
	cmd.AddCommand(newShowCmd(app))
	cmd.AddCommand(newNewCmd(app))
	cmd.AddCommand(newEditCmd(app))
	cmd.AddCommand(newSubmitCmd(app))
	cmd.AddCommand(newCancelCmd(app))
	cmd.AddCommand(newAmendCmd(app))
	cmd.AddCommand(newBulkCmd(app))
	cmd.AddCommand(newWatchCmd(app))

	return cmd
}

// rpc returns the server client, creating it on first use.
func (a *App) rpc() *rpc.Client {
	if a.client == nil {
		var opts []rpc.Option
		if a.Config.Token != "" {
			opts = append(opts, rpc.WithToken(a.Config.Token))
		}
		a.client = rpc.NewClient(a.Config.ServerURL, opts...)
	}
	return a.client
}

// session returns the command's session, creating it on first use. A
// preference database that cannot be opened falls back to memory.
func (a *App) session(cmd *cobra.Command) *session.Session {
	if a.sess != nil {
		return a.sess
	}
	s := session.New(a.rpc(), a.Config.User, a.Config.Roles, &ui.Terminal{
		Out:       cmd.OutOrStdout(),
		In:        cmd.InOrStdin(),
		AssumeYes: a.AssumeYes,
	})
	if store, err := openPrefs(cmd.Context(), a.Config.PrefsPath); err != nil {
		glog.Warningf("preferences unavailable, using memory: %v", err)
	} else {
		s.Prefs = store
		a.prefs = store
	}
	a.sess = s
	return s
}

func openPrefs(ctx context.Context, path string) (prefs.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return prefs.OpenSQLite(ctx, path)
}

func (a *App) close() error {
	if a.prefs == nil {
		return nil
	}
	err := a.prefs.Close()
	a.prefs = nil
	return err
}

func out(cmd *cobra.Command) io.Writer { return cmd.OutOrStdout() }

package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/desk/internal/session"
)

func newWatchCmd(a *App) *cobra.Command {
	var (
		lf   listFlags
		doc  string
		idle time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch [doctype]",
		Short: "Keep a list or document on screen and redraw it on server changes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sess := a.session(cmd)
			go reportIdle(ctx, cmd.ErrOrStderr(), sess, idle)

			if doc != "" {
				if len(args) == 0 {
					return fmt.Errorf("--doc needs a doctype")
				}
				f, err := a.openForm(cmd, []string{args[0], doc})
				if err != nil {
					return err
				}
				defer f.Close()
				rt, stop, err := a.connect(ctx, sess)
				if err != nil {
					return err
				}
				defer stop()
				if err := rt.SubscribeDoc(ctx, args[0], doc); err != nil {
					return err
				}
				<-ctx.Done()
				return nil
			}

			lv, err := lf.controller(cmd, a, args)
			if err != nil {
				return err
			}
			lv.Attach()
			defer lv.Close()
			if err := lv.Refresh(ctx); err != nil {
				return err
			}
			rt, stop, err := a.connect(ctx, sess)
			if err != nil {
				return err
			}
			defer stop()
			if err := rt.Subscribe(ctx, lv.Doctype); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "watching %s, interrupt to stop\n", lv.Doctype)
			<-ctx.Done()
			return nil
		},
	}
	lf.register(cmd)
	cmd.Flags().StringVar(&doc, "doc", "", "watch this document instead of the list")
	cmd.Flags().DurationVar(&idle, "idle", 10*time.Minute, "report when nothing was refreshed or edited for this long (0 disables)")
	return cmd
}

// reportIdle writes a notice each time the session crosses into idleness.
func reportIdle(ctx context.Context, w io.Writer, sess *session.Session, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	t := time.NewTicker(timeout / 2)
	defer t.Stop()
	idle := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		now := sess.IsIdle(timeout)
		if now && !idle {
			fmt.Fprintf(w, "idle for more than %s\n", timeout)
		}
		idle = now
	}
}

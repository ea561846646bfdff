package cli

import (
	"context"

	"github.com/golang/glog"

	"github.com/matthewbaird/desk/internal/eventbus"
	"github.com/matthewbaird/desk/internal/realtime"
	"github.com/matthewbaird/desk/internal/session"
)

// connect opens the realtime socket for sess and feeds received events into
// its bus until ctx ends. The returned func closes the socket and drains the
// bus.
func (a *App) connect(ctx context.Context, sess *session.Session) (*realtime.Client, func(), error) {
	opts := []realtime.Option{realtime.WithInvalidator(sess.Meta)}
	if a.Config.Token != "" {
		opts = append(opts, realtime.WithToken(a.Config.Token))
	}
	rt := realtime.NewClient(a.Config.ServerURL, sess.Bus, opts...)
	if err := rt.Connect(ctx); err != nil {
		return nil, nil, err
	}
	sess.Bus.Subscribe("log", eventbus.NewLogConsumer())
	sess.Bus.Start(ctx)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := rt.Run(ctx); err != nil {
			glog.Warningf("realtime: %v", err)
		}
	}()
	return rt, func() {
		_ = rt.Close()
		<-runDone
		sess.Bus.Stop()
	}, nil
}

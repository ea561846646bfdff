package eventbus

import (
	"context"

	"github.com/golang/glog"

	"github.com/matthewbaird/desk/internal/event"
)

// LogConsumer logs every event at verbosity 1.
type LogConsumer struct{}

func NewLogConsumer() *LogConsumer { return &LogConsumer{} }

func (c *LogConsumer) HandleEvent(_ context.Context, evt event.Event) error {
	glog.V(1).Infof("event: %s room=%s user=%s", evt, evt.Room, evt.User)
	return nil
}

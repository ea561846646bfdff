package ui

import (
	"context"
	"strings"

	"github.com/golang/glog"
)

// Log is a headless Presenter that writes everything to the log. Confirm
// answers with AssumeYes.
type Log struct {
	AssumeYes bool
}

func (l *Log) Alert(msg string, ind Indicator) {
	if ind == Red {
		glog.Warningf("alert: %s", msg)
		return
	}
	glog.Infof("alert: %s", msg)
}

func (l *Log) Msgprint(title string, msgs []string) {
	glog.Warningf("%s: %s", title, strings.Join(msgs, "; "))
}

func (l *Log) Confirm(_ context.Context, msg string) (bool, error) {
	glog.Infof("confirm: %s -> %v", msg, l.AssumeYes)
	return l.AssumeYes, nil
}

func (l *Log) ShowBanner(b Banner)    { glog.Warningf("banner %s: %s", b.Key, b.Message) }
func (l *Log) ClearBanner(key string) { glog.V(1).Infof("banner %s cleared", key) }

func (l *Log) HighlightFields(doctype, name string, fields []string) {
	glog.Warningf("%s %s: check %s", doctype, name, strings.Join(fields, ", "))
}

func (l *Log) PlaySound(name string) { glog.V(1).Infof("sound: %s", name) }

func (l *Log) RenderForm(v FormView) {
	glog.V(1).Infof("form: %s %s [%s] dirty=%v", v.Doctype, v.Name, v.State, v.Dirty)
}

func (l *Log) RenderList(v ListView) {
	glog.V(1).Infof("list: %s %s rows=%d total=%d", v.Doctype, v.View, len(v.Rows), v.Total)
}

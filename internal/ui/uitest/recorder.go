// Package uitest provides a Presenter that records every call for assertions.
package uitest

import (
	"context"
	"sync"

	"github.com/matthewbaird/desk/internal/ui"
)

// Alert is one recorded toast.
type Alert struct {
	Message   string
	Indicator ui.Indicator
}

// Msgprint is one recorded blocking message.
type Msgprint struct {
	Title    string
	Messages []string
}

// Recorder implements ui.Presenter. Confirm pops answers from Answers and
// falls back to Default once they run out.
type Recorder struct {
	mu sync.Mutex

	Answers []bool
	Default bool

	Alerts     []Alert
	Msgprints  []Msgprint
	Confirms   []string
	Banners    map[string]ui.Banner
	Highlights [][]string
	Sounds     []string
	Forms      []ui.FormView
	Lists      []ui.ListView
}

var _ ui.Presenter = (*Recorder)(nil)

// New returns a Recorder that answers every confirmation with yes.
func New() *Recorder {
	return &Recorder{Default: true, Banners: make(map[string]ui.Banner)}
}

func (r *Recorder) Alert(msg string, ind ui.Indicator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Alerts = append(r.Alerts, Alert{Message: msg, Indicator: ind})
}

func (r *Recorder) Msgprint(title string, msgs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Msgprints = append(r.Msgprints, Msgprint{Title: title, Messages: msgs})
}

func (r *Recorder) Confirm(_ context.Context, msg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Confirms = append(r.Confirms, msg)
	if len(r.Answers) == 0 {
		return r.Default, nil
	}
	a := r.Answers[0]
	r.Answers = r.Answers[1:]
	return a, nil
}

func (r *Recorder) ShowBanner(b ui.Banner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Banners == nil {
		r.Banners = make(map[string]ui.Banner)
	}
	r.Banners[b.Key] = b
}

func (r *Recorder) ClearBanner(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.Banners, key)
}

func (r *Recorder) HighlightFields(_, _ string, fields []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Highlights = append(r.Highlights, fields)
}

func (r *Recorder) PlaySound(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sounds = append(r.Sounds, name)
}

func (r *Recorder) RenderForm(v ui.FormView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Forms = append(r.Forms, v)
}

func (r *Recorder) RenderList(v ui.ListView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Lists = append(r.Lists, v)
}

// LastAlert returns the most recent alert message, or "".
func (r *Recorder) LastAlert() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Alerts) == 0 {
		return ""
	}
	return r.Alerts[len(r.Alerts)-1].Message
}

// LastForm returns the most recently rendered form.
func (r *Recorder) LastForm() (ui.FormView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Forms) == 0 {
		return ui.FormView{}, false
	}
	return r.Forms[len(r.Forms)-1], true
}

// LastList returns the most recently rendered list.
func (r *Recorder) LastList() (ui.ListView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Lists) == 0 {
		return ui.ListView{}, false
	}
	return r.Lists[len(r.Lists)-1], true
}

// Banner returns the banner currently shown under key.
func (r *Recorder) Banner(key string) (ui.Banner, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.Banners[key]
	return b, ok
}

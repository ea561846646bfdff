package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	styleTitle  = lipgloss.NewStyle().Bold(true)
	styleMuted  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleBanner = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("3")).Padding(0, 1)
	styleBlock  = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("1")).Padding(0, 1)

	indicatorColor = map[Indicator]lipgloss.Color{
		Green:  lipgloss.Color("2"),
		Red:    lipgloss.Color("1"),
		Orange: lipgloss.Color("3"),
		Blue:   lipgloss.Color("4"),
	}
)

// Terminal renders to a terminal. Confirmations are read from In unless
// AssumeYes is set.
type Terminal struct {
	Out       io.Writer
	In        io.Reader
	AssumeYes bool

	reader *bufio.Reader
}

func (t *Terminal) Alert(msg string, ind Indicator) {
	fmt.Fprintln(t.Out, lipgloss.NewStyle().Foreground(indicatorColor[ind]).Render("● "+msg))
}

func (t *Terminal) Msgprint(title string, msgs []string) {
	body := styleTitle.Render(title)
	for _, m := range msgs {
		body += "\n• " + m
	}
	fmt.Fprintln(t.Out, styleBlock.Render(body))
}

func (t *Terminal) Confirm(ctx context.Context, msg string) (bool, error) {
	if t.AssumeYes {
		fmt.Fprintf(t.Out, "%s [y/N] y\n", msg)
		return true, nil
	}
	if t.In == nil {
		return false, nil
	}
	if t.reader == nil {
		t.reader = bufio.NewReader(t.In)
	}
	fmt.Fprintf(t.Out, "%s [y/N] ", msg)

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := t.reader.ReadString('\n')
		ch <- answer{line, err}
	}()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && a.err != io.EOF {
			return false, a.err
		}
		s := strings.ToLower(strings.TrimSpace(a.line))
		return s == "y" || s == "yes", nil
	}
}

func (t *Terminal) ShowBanner(b Banner) {
	text := b.Message
	if b.Action != "" {
		text += "  " + styleMuted.Render("["+b.Action+"]")
	}
	fmt.Fprintln(t.Out, styleBanner.Render(text))
}

func (t *Terminal) ClearBanner(string) {}

func (t *Terminal) HighlightFields(doctype, name string, fields []string) {
	fmt.Fprintln(t.Out, lipgloss.NewStyle().Foreground(indicatorColor[Red]).Render(
		fmt.Sprintf("%s %s: %s", doctype, name, strings.Join(fields, ", "))))
}

func (t *Terminal) PlaySound(string) {
	fmt.Fprint(t.Out, "\a")
}

func (t *Terminal) RenderForm(v FormView) {
	header := styleTitle.Render(v.Title)
	if v.Title != v.Name {
		header += " " + styleMuted.Render(v.Name)
	}
	state := v.State
	if v.Dirty {
		state += " (Not Saved)"
	}
	fmt.Fprintf(t.Out, "%s  %s\n", header, styleMuted.Render(state))

	tbl := table.New().Border(lipgloss.NormalBorder())
	for _, f := range v.Fields {
		label := f.Label
		if f.Reqd {
			label += " *"
		}
		val := fmt.Sprint(f.Value)
		if f.Value == nil {
			val = ""
		}
		if f.Rows > 0 {
			val = fmt.Sprintf("%d rows", f.Rows)
		}
		tbl.Row(label, val)
	}
	fmt.Fprintln(t.Out, tbl.String())

	for _, s := range v.Sidebar {
		fmt.Fprintf(t.Out, "%s %s\n", styleMuted.Render(s.Label+":"), s.Value)
	}
	var actions []string
	for _, a := range v.Actions {
		if a.Primary {
			actions = append(actions, styleTitle.Render("["+a.Label+"]"))
		} else {
			actions = append(actions, "["+a.Label+"]")
		}
	}
	if len(actions) > 0 {
		fmt.Fprintln(t.Out, strings.Join(actions, " "))
	}
}

func (t *Terminal) RenderList(v ListView) {
	if len(v.Filters) > 0 {
		fmt.Fprintln(t.Out, styleMuted.Render("filters: "+strings.Join(v.Filters, ", ")))
	}
	if len(v.GroupOrder) > 0 {
		for _, g := range v.GroupOrder {
			fmt.Fprintf(t.Out, "%s (%d)\n", styleTitle.Render(g), len(v.Groups[g]))
			names := append([]string(nil), v.Groups[g]...)
			sort.Strings(names)
			for _, n := range names {
				fmt.Fprintf(t.Out, "  %s\n", n)
			}
		}
		return
	}

	selected := make(map[string]bool, len(v.Selected))
	for _, n := range v.Selected {
		selected[n] = true
	}
	tbl := table.New().Border(lipgloss.NormalBorder()).Headers(append([]string{""}, v.Columns...)...)
	for _, r := range v.Rows {
		mark := " "
		if selected[fmt.Sprint(r["name"])] {
			mark = "x"
		}
		cells := []string{mark}
		for _, c := range v.Columns {
			if r[c] == nil {
				cells = append(cells, "")
				continue
			}
			cells = append(cells, fmt.Sprint(r[c]))
		}
		tbl.Row(cells...)
	}
	fmt.Fprintln(t.Out, tbl.String())
	fmt.Fprintln(t.Out, styleMuted.Render(fmt.Sprintf("%d of %d", len(v.Rows), v.Total)))
}

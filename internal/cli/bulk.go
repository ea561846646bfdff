package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/matthewbaird/desk/internal/bulk"
	"github.com/matthewbaird/desk/internal/event"
)

type bulkFlags struct {
	list        listFlags
	all         bool
	sets        []string
	assignees   []string
	description string
	tags        []string
	printFormat string
	fileFormat  string
	output      string
	progress    bool
}

func newBulkCmd(a *App) *cobra.Command {
	var bf bulkFlags
	var actions []string
	for _, act := range bulk.Actions {
		actions = append(actions, string(act))
	}
	cmd := &cobra.Command{
		Use:   "bulk <action> <doctype> [name...]",
		Short: "Run one action over many documents",
		Long: "Run one action over many documents in a single server call.\n\nActions: " + strings.Join(actions, ", ") +
			".\nWith --all the names come from the list selected by the list flags.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBulk(cmd, &bf, bulk.Action(args[0]), args[1], args[2:])
		},
	}
	bf.list.register(cmd)
	f := cmd.Flags()
	f.BoolVar(&bf.all, "all", false, "act on every document of the filtered list page")
	f.StringArrayVarP(&bf.sets, "set", "s", nil, "field=value for edit (repeatable)")
	f.StringSliceVar(&bf.assignees, "to", nil, "users to assign")
	f.StringVar(&bf.description, "description", "", "assignment note")
	f.StringSliceVar(&bf.tags, "tag", nil, "tags to add")
	f.StringVar(&bf.printFormat, "print-format", "Standard", "print format")
	f.StringVar(&bf.fileFormat, "file-format", "CSV", "export file format")
	f.StringVarP(&bf.output, "output", "o", "", "write print or export output to this file")
	f.BoolVar(&bf.progress, "progress", true, "show realtime progress")
	return cmd
}

func (a *App) runBulk(cmd *cobra.Command, bf *bulkFlags, action bulk.Action, doctype string, names []string) error {
	ctx := cmd.Context()
	sess := a.session(cmd)

	if bf.all {
		if len(names) > 0 {
			return errors.New("pass names or --all, not both")
		}
		lv, err := bf.list.controller(cmd, a, []string{doctype})
		if err != nil {
			return err
		}
		if err := lv.Refresh(ctx); err != nil {
			return err
		}
		lv.SelectAll()
		names = lv.Selected()
	}

	r := bulk.NewRunner(sess, doctype)
	if bf.progress {
		var stop func()
		ctx, stop = a.withProgress(cmd, r)
		defer stop()
	}

	var (
		file json.RawMessage
		err  error
	)
	switch action {
	case bulk.Edit:
		var values map[string]any
		if values, err = parseAssignments(bf.sets); err == nil {
			err = r.Edit(ctx, names, values, nil)
		}
	case bulk.Submit:
		err = r.Submit(ctx, names, nil)
	case bulk.Cancel:
		err = r.Cancel(ctx, names, nil)
	case bulk.Delete:
		err = r.Delete(ctx, names, nil)
	case bulk.Assign:
		err = r.AssignTo(ctx, names, bf.assignees, bf.description, nil)
	case bulk.Tag:
		err = r.AddTags(ctx, names, bf.tags, nil)
	case bulk.Print:
		file, err = r.Print(ctx, names, bf.printFormat, nil)
	case bulk.Export:
		file, err = r.Export(ctx, names, bf.fileFormat, nil)
	default:
		return fmt.Errorf("unknown bulk action %q", action)
	}
	if err != nil {
		return err
	}
	if file != nil {
		return writeFile(cmd, file, bf.output)
	}
	return nil
}

// withProgress prints task progress of r's batch while the returned context
// is live. Without a realtime connection the batch runs silently.
func (a *App) withProgress(cmd *cobra.Command, r *bulk.Runner) (context.Context, func()) {
	ctx, cancel := context.WithCancel(cmd.Context())
	_, stop, err := a.connect(ctx, a.session(cmd))
	if err != nil {
		glog.V(1).Infof("bulk: no realtime progress: %v", err)
		cancel()
		return cmd.Context(), func() {}
	}
	r.OnProgress = func(p event.TaskProgressPayload) {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d/%d %s\n", p.Progress, p.Total, p.Title)
	}
	return ctx, func() {
		cancel()
		stop()
	}
}

// writeFile writes a {filename, content} message to path, or to stdout when
// path is empty.
func writeFile(cmd *cobra.Command, msg json.RawMessage, path string) error {
	var file struct {
		Filename string `json:"filename"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(msg, &file); err != nil {
		return fmt.Errorf("decoding file: %w", err)
	}
	var w io.Writer = out(cmd)
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s to %s\n", file.Filename, path)
	}
	_, err := io.WriteString(w, file.Content)
	return err
}

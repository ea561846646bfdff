package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/desk/internal/form"
)

type editFlags struct {
	sets []string
	rows []string
}

func (ef *editFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&ef.sets, "set", "s", nil, "field=value to set (repeatable)")
	cmd.Flags().StringArrayVar(&ef.rows, "row", nil, "table:field=value,... child row to add (repeatable)")
}

func (ef *editFlags) empty() bool { return len(ef.sets) == 0 && len(ef.rows) == 0 }

// apply sets fields in name order, then appends child rows.
func (ef *editFlags) apply(ctx context.Context, f *form.Controller) error {
	values, err := parseAssignments(ef.sets)
	if err != nil {
		return err
	}
	fields := make([]string, 0, len(values))
	for k := range values {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	for _, field := range fields {
		if err := f.SetValue(ctx, field, values[field]); err != nil {
			return fmt.Errorf("setting %s: %w", field, err)
		}
	}
	for _, raw := range ef.rows {
		r, err := parseRow(raw)
		if err != nil {
			return err
		}
		row, err := f.AddRow(ctx, r.Table)
		if err != nil {
			return fmt.Errorf("adding %s row: %w", r.Table, err)
		}
		for field, v := range r.Values {
			if err := f.SetChildValue(ctx, row.Doctype, row.Name, field, v); err != nil {
				return fmt.Errorf("setting %s.%s: %w", r.Table, field, err)
			}
		}
	}
	return nil
}

func (a *App) form(cmd *cobra.Command) *form.Controller {
	f := form.NewController(a.session(cmd))
	f.StaleAfter = a.Config.StaleAfter
	return f
}

// openForm loads doctype/name into a new form.
func (a *App) openForm(cmd *cobra.Command, args []string) (*form.Controller, error) {
	f := a.form(cmd)
	if err := f.Open(cmd.Context(), args[0], args[1]); err != nil {
		return nil, err
	}
	return f, nil
}

func done(cmd *cobra.Command, verb string, f *form.Controller) {
	doc := f.Doc()
	fmt.Fprintf(out(cmd), "%s %s %s (%s)\n", verb, doc.Doctype, doc.Name, f.State())
}

func newShowCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <doctype> <name>",
		Short: "Show a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.openForm(cmd, args)
			if err != nil {
				return err
			}
			defer f.Close()
			return nil
		},
	}
}

func newNewCmd(a *App) *cobra.Command {
	var (
		ef      editFlags
		submit  bool
		discard bool
	)
	cmd := &cobra.Command{
		Use:   "new <doctype>",
		Short: "Create a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f := a.form(cmd)
			defer f.Close()
			if err := f.New(ctx, args[0]); err != nil {
				return err
			}
			if err := ef.apply(ctx, f); err != nil {
				return err
			}
			if discard {
				a.session(cmd).UI.RenderForm(f.View())
				return f.Discard(ctx)
			}
			if err := f.Save(ctx); err != nil {
				return err
			}
			if submit {
				if err := f.Submit(ctx); err != nil {
					return err
				}
			}
			done(cmd, "saved", f)
			return nil
		},
	}
	ef.register(cmd)
	cmd.Flags().BoolVar(&submit, "submit", false, "submit after saving")
	cmd.Flags().BoolVar(&discard, "discard", false, "show the filled-in document and discard it without saving")
	return cmd
}

func newEditCmd(a *App) *cobra.Command {
	var ef editFlags
	cmd := &cobra.Command{
		Use:   "edit <doctype> <name>",
		Short: "Change and save a draft",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ef.empty() {
				return fmt.Errorf("nothing to change: pass --set or --row")
			}
			f, err := a.openForm(cmd, args)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := ef.apply(cmd.Context(), f); err != nil {
				return err
			}
			if err := f.Save(cmd.Context()); err != nil {
				return err
			}
			done(cmd, "saved", f)
			return nil
		},
	}
	ef.register(cmd)
	return cmd
}

func newSubmitCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <doctype> <name>",
		Short: "Submit a saved draft",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.openForm(cmd, args)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := f.Submit(cmd.Context()); err != nil {
				return err
			}
			done(cmd, "submitted", f)
			return nil
		},
	}
}

func newCancelCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <doctype> <name>",
		Short: "Cancel a submitted document",
		Long:  "Cancel a submitted document. Submitted documents linked to it are offered for cancellation first.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.openForm(cmd, args)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := f.Cancel(cmd.Context()); err != nil {
				return err
			}
			done(cmd, "cancelled", f)
			return nil
		},
	}
}

func newAmendCmd(a *App) *cobra.Command {
	var ef editFlags
	cmd := &cobra.Command{
		Use:   "amend <doctype> <name>",
		Short: "Create and save an amendment of a cancelled document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := a.openForm(cmd, args)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := f.Amend(ctx); err != nil {
				return err
			}
			if err := ef.apply(ctx, f); err != nil {
				return err
			}
			if err := f.Save(ctx); err != nil {
				return err
			}
			done(cmd, "amended", f)
			return nil
		},
	}
	ef.register(cmd)
	return cmd
}

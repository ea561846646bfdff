package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/desk/internal/listview"
	"github.com/matthewbaird/desk/internal/prefs"
	"github.com/matthewbaird/desk/internal/route"
)

// listBuilder is the preference key remembering the last listed doctype.
const listBuilder = "list"

type listFlags struct {
	filters    []string
	sortBy     string
	sortOrder  string
	pageLength int
	view       string
	groupBy    string
	route      string
}

func (lf *listFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&lf.filters, "filter", "f", nil, `filter such as status=Open or "customer like %acme%" (repeatable)`)
	cmd.Flags().StringVar(&lf.sortBy, "sort", "", "sort field")
	cmd.Flags().StringVar(&lf.sortOrder, "order", "", "sort order, asc or desc")
	cmd.Flags().IntVarP(&lf.pageLength, "page-length", "n", listview.DefaultPageLength, "rows per page")
	cmd.Flags().StringVar(&lf.view, "view", "", "List, Report or Kanban")
	cmd.Flags().StringVar(&lf.groupBy, "group-by", "", "kanban column field")
	cmd.Flags().StringVar(&lf.route, "route", "", `list route such as "List/ToDo/Report?status=Open"`)
}

// controller builds a list for doctype, or for the doctype of --route, or
// for the last listed doctype.
func (lf *listFlags) controller(cmd *cobra.Command, a *App, args []string) (*listview.Controller, error) {
	ctx := cmd.Context()
	sess := a.session(cmd)
	var r *route.Route
	if lf.route != "" {
		parsed, err := route.Parse(lf.route)
		if err != nil {
			return nil, fmt.Errorf("parsing route: %w", err)
		}
		r = &parsed
	}

	doctype := ""
	switch {
	case len(args) > 0:
		doctype = args[0]
	case r != nil && r.Doctype != "":
		doctype = r.Doctype
	default:
		doctype = prefs.LastDoctype(ctx, sess.Prefs, listBuilder)
	}
	if doctype == "" {
		return nil, errors.New("doctype is required")
	}

	lv := listview.New(sess, doctype)
	lv.Throttle = a.Config.ThrottleWindow
	lv.Debounce = a.Config.RealtimeDebounce
	if r != nil {
		lv.ApplyRoute(*r)
	}
	filters, err := parseFilters(doctype, lf.filters)
	if err != nil {
		return nil, err
	}
	lv.Filters = append(lv.Filters, filters...)
	if lf.sortBy != "" {
		lv.SortBy = lf.sortBy
	}
	if lf.sortOrder != "" {
		lv.SortOrder = lf.sortOrder
	}
	lv.PageLength = lf.pageLength
	if lf.view != "" {
		lv.View = listview.ParseView(lf.view)
	}
	if lf.groupBy != "" {
		lv.GroupBy = lf.groupBy
	}
	if err := prefs.SetLastDoctype(ctx, sess.Prefs, listBuilder, doctype); err != nil {
		return nil, err
	}
	return lv, nil
}

func newListCmd(a *App) *cobra.Command {
	var lf listFlags
	cmd := &cobra.Command{
		Use:   "list [doctype]",
		Short: "List documents of a doctype",
		Long:  "List documents of a doctype. Without a doctype the last listed one is used.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lv, err := lf.controller(cmd, a, args)
			if err != nil {
				return err
			}
			if err := lv.Refresh(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "%d of %d  %s\n", len(lv.Data()), lv.Total(), lv.Route())
			return nil
		},
	}
	lf.register(cmd)
	return cmd
}

package route

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/desk/internal/types"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Route
	}{
		{"List/ToDo/List?status=Open", Route{View: "List", Doctype: "ToDo", NameOrMode: "List", Query: url.Values{"status": {"Open"}}}},
		{"/app/Form/Sales%20Order/SO-0001", Route{View: "Form", Doctype: "Sales Order", NameOrMode: "SO-0001"}},
		{"List/Task/Kanban/Sprint 4", Route{View: "List", Doctype: "Task", NameOrMode: "Kanban", Rest: []string{"Sprint 4"}}},
		{"", Route{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{
		"List/ToDo/List?status=Open",
		"Form/Sales%20Order/SO-0001",
		"List/Task/Kanban/Sprint%204",
	} {
		r, err := Parse(s)
		require.NoError(t, err)
		assert.Equal(t, s, r.String())
	}
}

func TestFiltersQuery(t *testing.T) {
	filters := types.Filters{
		{Doctype: "ToDo", Field: "status", Operator: "=", Value: "Open"},
		{Doctype: "ToDo", Field: "priority", Operator: "in", Value: []any{"High", "Medium"}},
	}
	q := FiltersToQuery(filters)
	assert.Equal(t, "Open", q.Get("status"))
	assert.Equal(t, `["in",["High","Medium"]]`, q.Get("priority"))

	back := FiltersFromQuery("ToDo", q)
	require.Len(t, back, 2)
	// sorted by key
	assert.Equal(t, types.Filter{Doctype: "ToDo", Field: "priority", Operator: "in", Value: []any{"High", "Medium"}}, back[0])
	assert.Equal(t, types.Filter{Doctype: "ToDo", Field: "status", Operator: "=", Value: "Open"}, back[1])
}

func TestFiltersFromQueryKeepsBrackets(t *testing.T) {
	back := FiltersFromQuery("Note", url.Values{"title": {"[draft"}})
	require.Len(t, back, 1)
	assert.Equal(t, "=", back[0].Operator)
	assert.Equal(t, "[draft", back[0].Value)
}

func TestRouterNavigate(t *testing.T) {
	var r Router
	var seen []string
	r.OnChange(func(to Route) { seen = append(seen, to.String()) })

	list, _ := Parse("List/ToDo/List")
	assert.True(t, r.Navigate(list))
	again, _ := Parse("/app/List/ToDo/List")
	assert.False(t, r.Navigate(again))

	form, _ := Parse("Form/ToDo/TD-0001")
	assert.True(t, r.Navigate(form))
	assert.Equal(t, []string{"List/ToDo/List", "Form/ToDo/TD-0001"}, seen)

	require.True(t, r.Back())
	assert.Equal(t, "List/ToDo/List", r.Current().String())

	r.Replace(Route{View: "List", Doctype: "ToDo", NameOrMode: "List", Query: url.Values{"status": {"Open"}}})
	assert.Len(t, seen, 3)
	assert.Equal(t, "List/ToDo/List?status=Open", r.Current().String())
}

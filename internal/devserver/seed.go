package devserver

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/golang/glog"

	"github.com/matthewbaird/desk/internal/meta"
	"github.com/matthewbaird/desk/internal/types"
)

//go:embed doctypes.cue
var builtinDocTypes []byte

// LoadRegistry builds a registry from the built-in doctypes, or from the CUE
// file at path when path is set.
func LoadRegistry(path string) (*meta.Registry, error) {
	var (
		dts []*meta.DocType
		err error
	)
	if path == "" {
		dts, err = meta.LoadCUE("doctypes.cue", builtinDocTypes)
	} else {
		dts, err = meta.LoadCUEFile(path)
	}
	if err != nil {
		return nil, err
	}
	reg := meta.NewRegistry()
	for _, dt := range dts {
		reg.Register(dt)
	}
	return reg, nil
}

// Seed inserts demo customers, items, todos and sales orders. It is a
// no-op when the backend already holds customers.
func Seed(b *Backend) error {
	if n, err := b.Count(Administrator, "Customer", nil); err != nil {
		return fmt.Errorf("checking customers: %w", err)
	} else if n > 0 {
		glog.Infof("demo data already seeded (%d customers found), skipping", n)
		return nil
	}

	save := func(doc *types.Document, action string) (*types.Document, error) {
		saved, err := b.Save(Administrator, doc, action)
		if err != nil {
			return nil, fmt.Errorf("seeding %s %s: %w", doc.Doctype, doc.Name, err)
		}
		return saved, nil
	}
	newDoc := func(doctype string, values map[string]any) *types.Document {
		d := types.NewDocument(doctype, "")
		d.IsLocal = true
		for k, v := range values {
			_ = d.Set(k, v)
		}
		return d
	}

	for _, c := range []map[string]any{
		{"customer_name": "Acme Corp", "customer_group": "Commercial", "email_id": "buying@acme.test"},
		{"customer_name": "Globex", "customer_group": "Commercial"},
		{"customer_name": "Jane Roe", "customer_group": "Individual"},
	} {
		if _, err := save(newDoc("Customer", c), ActionSave); err != nil {
			return err
		}
	}
	for _, it := range []map[string]any{
		{"item_code": "WIDGET", "item_name": "Widget", "standard_rate": 12.5},
		{"item_code": "GADGET", "item_name": "Gadget", "standard_rate": 40.0},
		{"item_code": "SPROCKET", "item_name": "Sprocket", "standard_rate": 3.0},
	} {
		if _, err := save(newDoc("Item", it), ActionSave); err != nil {
			return err
		}
	}
	for i, td := range []map[string]any{
		{"description": "Call Acme about the renewal", "priority": "High"},
		{"description": "Send Globex the price list", "priority": "Medium"},
		{"description": "Archive last year's orders", "priority": "Low", "status": "Closed", "date": "2026-01-15"},
	} {
		if _, err := save(newDoc("ToDo", td), ActionSave); err != nil {
			return fmt.Errorf("todo %d: %w", i, err)
		}
	}

	orders := []struct {
		customer string
		items    map[string]float64
		action   string
	}{
		{"Acme Corp", map[string]float64{"WIDGET": 10, "GADGET": 2}, ActionSubmit},
		{"Globex", map[string]float64{"SPROCKET": 100}, ActionSave},
		{"Jane Roe", map[string]float64{"GADGET": 1}, ActionSave},
	}
	rates := map[string]float64{"WIDGET": 12.5, "GADGET": 40, "SPROCKET": 3}
	for _, o := range orders {
		so := newDoc("Sales Order", map[string]any{
			"customer":         o.customer,
			"transaction_date": "2026-10-01",
			"delivery_date":    "2026-10-31",
		})
		total := 0.0
		for _, code := range sortedKeys(o.items) {
			row := types.NewDocument("Sales Order Item", "")
			row.IsLocal = true
			qty := o.items[code]
			_ = row.Set("item_code", code)
			_ = row.Set("qty", qty)
			_ = row.Set("rate", rates[code])
			_ = row.Set("amount", qty*rates[code])
			total += qty * rates[code]
			so.AddChild("items", row)
		}
		_ = so.Set("grand_total", total)
		if _, err := save(so, o.action); err != nil {
			return err
		}
	}
	glog.Infof("seeded demo data")
	return nil
}

func sortedKeys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

package meta

import (
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/parser"
	"cuelang.org/go/cue/token"
	"github.com/golang/glog"

	"github.com/matthewbaird/desk/internal/types"
)

// Evaluator evaluates depends_on style expressions. A bare fieldname is a
// truthiness test on that field; an "eval:" prefix is a boolean expression
// over doc and parent. Comparisons are evaluated as CUE; the operands of
// &&, || and ! are tested for truthiness, so doc.a && doc.b works on plain
// values. Syntax errors evaluate to false, and so do operands that are
// errors or incomplete, such as a reference to an unset field.
type Evaluator struct {
	mu  sync.Mutex
	ctx *cue.Context
}

// NewEvaluator returns an Evaluator with its own CUE context.
func NewEvaluator() *Evaluator {
	return &Evaluator{ctx: cuecontext.New()}
}

var defaultEvaluator = NewEvaluator()

// Eval evaluates expr with the package default Evaluator.
func Eval(expr string, doc, parent *types.Document) bool {
	return defaultEvaluator.Eval(expr, doc, parent)
}

// Eval evaluates expr against doc and, for child rows, parent.
func (e *Evaluator) Eval(expr string, doc, parent *types.Document) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" || doc == nil {
		return false
	}
	if !strings.HasPrefix(expr, "eval:") {
		return types.Truthy(doc.Get(expr))
	}
	src := normalizeExpr(strings.TrimPrefix(expr, "eval:"))
	x, err := parser.ParseExpr("depends_on", src)
	if err != nil {
		glog.V(1).Infof("meta: expression %q: %v", expr, err)
		return false
	}

	scope := map[string]any{"doc": scopeMap(doc), "parent": map[string]any{}}
	if parent != nil {
		scope["parent"] = scopeMap(parent)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.truthy(x, e.ctx.Encode(scope))
}

// truthy applies the boolean operators itself and hands every other
// expression to CUE.
func (e *Evaluator) truthy(x ast.Expr, scope cue.Value) bool {
	switch n := x.(type) {
	case *ast.ParenExpr:
		return e.truthy(n.X, scope)
	case *ast.UnaryExpr:
		if n.Op == token.NOT {
			return !e.truthy(n.X, scope)
		}
	case *ast.BinaryExpr:
		switch n.Op {
		case token.LAND:
			return e.truthy(n.X, scope) && e.truthy(n.Y, scope)
		case token.LOR:
			return e.truthy(n.X, scope) || e.truthy(n.Y, scope)
		}
	}
	v := e.ctx.BuildExpr(x, cue.Scope(scope))
	if err := v.Err(); err != nil {
		glog.V(2).Infof("meta: operand: %v", err)
		return false
	}
	return cueTruthy(v)
}

func cueTruthy(v cue.Value) bool {
	switch v.Kind() {
	case cue.BoolKind:
		b, _ := v.Bool()
		return b
	case cue.StringKind:
		s, _ := v.String()
		return s != ""
	case cue.IntKind, cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		return err == nil && f != 0
	case cue.ListKind:
		n, err := v.Len().Int64()
		return err == nil && n > 0
	case cue.StructKind:
		return true
	}
	return false
}

// scopeMap drops client-only keys, which are not valid CUE labels.
func scopeMap(d *types.Document) map[string]any {
	m := d.AsMap()
	for k := range m {
		if strings.HasPrefix(k, "__") {
			delete(m, k)
		}
	}
	return m
}

// normalizeExpr rewrites the JavaScript flavoured operators and single
// quoted strings found in metadata into CUE syntax.
func normalizeExpr(src string) string {
	var b strings.Builder
	inSingle, inDouble := false, false
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case inSingle:
			switch c {
			case '\\':
				if i+1 < len(src) {
					i++
					if src[i] == '\'' {
						b.WriteByte('\'')
					} else {
						b.WriteByte('\\')
						b.WriteByte(src[i])
					}
				}
			case '\'':
				inSingle = false
				b.WriteByte('"')
			case '"':
				b.WriteString(`\"`)
			default:
				b.WriteByte(c)
			}
		case inDouble:
			b.WriteByte(c)
			if c == '\\' && i+1 < len(src) {
				i++
				b.WriteByte(src[i])
			} else if c == '"' {
				inDouble = false
			}
		case c == '\'':
			inSingle = true
			b.WriteByte('"')
		case c == '"':
			inDouble = true
			b.WriteByte(c)
		case strings.HasPrefix(src[i:], "==="):
			b.WriteString("==")
			i += 2
		case strings.HasPrefix(src[i:], "!=="):
			b.WriteString("!=")
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// IsMandatory reports whether a field must be filled on doc.
func IsMandatory(f *DocField, doc, parent *types.Document) bool {
	if f.Reqd {
		return true
	}
	if f.MandatoryDependsOn == "" {
		return false
	}
	return Eval(f.MandatoryDependsOn, doc, parent)
}

// IsDisplayed reports whether a field's depends_on allows showing it.
func IsDisplayed(f *DocField, doc, parent *types.Document) bool {
	if f.Hidden {
		return false
	}
	if f.DependsOn == "" {
		return true
	}
	return Eval(f.DependsOn, doc, parent)
}

// IsReadOnly reports whether a field is read only on doc.
func IsReadOnly(f *DocField, doc, parent *types.Document) bool {
	if f.ReadOnly {
		return true
	}
	if f.ReadOnlyDependsOn == "" {
		return false
	}
	return Eval(f.ReadOnlyDependsOn, doc, parent)
}

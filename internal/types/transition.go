package types

import "fmt"

// ValidateTransition checks whether transitioning from current to target is
// allowed according to the given transition map. It returns nil if the
// transition is valid, or a descriptive error otherwise.
func ValidateTransition(transitions map[string][]string, current, target string) error {
	allowed, ok := transitions[current]
	if !ok {
		return fmt.Errorf("unknown current state: %s", current)
	}
	for _, s := range allowed {
		if s == target {
			return nil
		}
	}
	return fmt.Errorf("transition from %q to %q is not allowed", current, target)
}

// DocStatus is the tri-state lifecycle flag carried by every document.
type DocStatus int

const (
	Draft     DocStatus = 0
	Submitted DocStatus = 1
	Cancelled DocStatus = 2
)

func (s DocStatus) String() string {
	switch s {
	case Draft:
		return "Draft"
	case Submitted:
		return "Submitted"
	case Cancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("DocStatus(%d)", int(s))
	}
}

// docStatusTransitions never allows a regression. A cancelled document can
// only be followed by a new amended document.
var docStatusTransitions = map[string][]string{
	"Draft":     {"Draft", "Submitted"},
	"Submitted": {"Submitted", "Cancelled"},
	"Cancelled": {"Cancelled"},
}

// ValidateDocStatus reports whether a document may move from cur to next.
func ValidateDocStatus(cur, next DocStatus) error {
	return ValidateTransition(docStatusTransitions, cur.String(), next.String())
}

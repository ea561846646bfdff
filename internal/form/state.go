package form

import (
	"fmt"

	"github.com/matthewbaird/desk/internal/types"
)

// State is where a document is in its lifecycle.
type State string

const (
	StateNew       State = "New"
	StateDraft     State = "Draft"
	StateSubmitted State = "Submitted"
	StateCancelled State = "Cancelled"
)

// transitions is the form lifecycle. Amending a cancelled document creates
// a new document in StateNew rather than moving the cancelled one.
var transitions = map[string][]string{
	string(StateNew):       {string(StateDraft)},
	string(StateDraft):     {string(StateDraft), string(StateSubmitted)},
	string(StateSubmitted): {string(StateCancelled)},
	string(StateCancelled): {},
}

// StateOf derives the lifecycle state of a document.
func StateOf(doc *types.Document) State {
	switch {
	case doc == nil:
		return ""
	case doc.IsLocal:
		return StateNew
	case doc.DocStatus == types.Submitted:
		return StateSubmitted
	case doc.DocStatus == types.Cancelled:
		return StateCancelled
	}
	return StateDraft
}

func validateTransition(cur, target State) error {
	if err := types.ValidateTransition(transitions, string(cur), string(target)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	return nil
}

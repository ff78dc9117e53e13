package dispatch

import (
	"fmt"
	"strings"

	"github.com/Checker-Finance/bastion/internal/errs"
)

// Action is what a task request asks for. The only values are ActionPush
// and ActionTest; the zero Action is invalid.
type Action struct {
	name string
}

var (
	ActionPush = Action{name: "push"}
	ActionTest = Action{name: "test"}
)

func (a Action) String() string { return a.name }

func (a Action) valid() bool {
	return a == ActionPush || a == ActionTest
}

// ParseAction maps a request's action field to an Action.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ActionPush.name:
		return ActionPush, nil
	case ActionTest.name:
		return ActionTest, nil
	default:
		return Action{}, fmt.Errorf("unknown action %q: %w", s, errs.ErrValidation)
	}
}

func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.name), nil
}

func (a *Action) UnmarshalText(b []byte) error {
	parsed, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Package tenancy provides call-scoped organization switching. A Scope is a
// stack of organization ids carried in a context.Context; Manager.Do pushes
// an organization for the duration of a function and always pops it again.
package tenancy

import (
	"context"

	"github.com/Checker-Finance/bastion/pkg/model"
)

// Scope is the organization stack of a single call chain. It is not safe for
// concurrent use; every request owns its own Scope.
type Scope struct {
	stack []string
}

// NewScope returns a scope whose bottom entry is initial.
func NewScope(initial string) *Scope {
	if initial == "" {
		initial = model.RootOrgID
	}
	return &Scope{stack: []string{initial}}
}

// Current returns the organization currently in effect.
func (s *Scope) Current() string {
	return s.stack[len(s.stack)-1]
}

// Depth returns the number of entries on the stack.
func (s *Scope) Depth() int {
	return len(s.stack)
}

// Enter pushes orgID and returns the mark to hand back to Restore.
func (s *Scope) Enter(orgID string) int {
	mark := len(s.stack)
	s.stack = append(s.stack, orgID)
	return mark
}

// Restore pops every entry pushed since mark was taken.
func (s *Scope) Restore(mark int) {
	if mark < 1 {
		mark = 1
	}
	if mark < len(s.stack) {
		s.stack = s.stack[:mark]
	}
}

type ctxKey struct{}

// WithScope returns a copy of ctx carrying s.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// WithNewScope attaches a fresh scope seeded with orgID.
func WithNewScope(ctx context.Context, orgID string) context.Context {
	return WithScope(ctx, NewScope(orgID))
}

// FromContext returns the scope carried by ctx, or nil.
func FromContext(ctx context.Context) *Scope {
	s, _ := ctx.Value(ctxKey{}).(*Scope)
	return s
}

// Current returns the organization in effect for ctx. A context without a
// scope runs as root.
func Current(ctx context.Context) string {
	if s := FromContext(ctx); s != nil {
		return s.Current()
	}
	return model.RootOrgID
}

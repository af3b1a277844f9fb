package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every member of a [Group] failed or was
// skipped by an open breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

// GroupConfig is the breaker template applied to every [Group] member. Name
// is overwritten per member.
type GroupConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// MemberStatus reports one member's breaker state.
type MemberStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// Group is an ordered list of interchangeable backends. Members are tried in
// registration order; members with open breakers are skipped. Members must
// be registered before the group is shared between goroutines.
type Group[T any] struct {
	members []member[T]
	cfg     GroupConfig
}

// NewGroup returns a group whose first member is primary.
func NewGroup[T any](primaryName string, primary T, cfg GroupConfig) *Group[T] {
	g := &Group[T]{cfg: cfg}
	g.Add(primaryName, primary)
	return g
}

// Add appends a fallback member.
func (g *Group[T]) Add(name string, value T) {
	cb := g.cfg.CircuitBreaker
	cb.Name = name
	g.members = append(g.members, member[T]{name: name, value: value, breaker: NewCircuitBreaker(cb)})
}

// Len returns the number of members.
func (g *Group[T]) Len() int { return len(g.members) }

// Status returns each member's breaker state in order.
func (g *Group[T]) Status() []MemberStatus {
	out := make([]MemberStatus, len(g.members))
	for i, m := range g.members {
		out[i] = MemberStatus{Name: m.name, State: m.breaker.State().String()}
	}
	return out
}

// Call runs fn against members until one succeeds and returns its result
// together with the member's name. A done ctx stops the walk immediately
// and its error is returned unwrapped.
func Call[T, R any](ctx context.Context, g *Group[T], fn func(context.Context, T) (R, error)) (R, string, error) {
	var (
		zero R
		errs []error
	)
	for i := range g.members {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		m := &g.members[i]
		var out R
		err := m.breaker.Execute(func() error {
			var err error
			out, err = fn(ctx, m.value)
			return err
		})
		if err == nil {
			return out, m.name, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, "", ctxErr
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("backend skipped, circuit open", "backend", m.name)
		} else {
			slog.Warn("backend failed, trying next", "backend", m.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

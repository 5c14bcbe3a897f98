package booking

import (
	"context"
	"strings"

	"servicehub/internal/domain"
	"servicehub/internal/models"
)

const (
	ActionAssign   = "assign"
	ActionStart    = "start"
	ActionComplete = "complete"
	ActionCancel   = "cancel"
)

// Action is a transition requested by name. Only the fields the named
// transition needs are read.
type Action struct {
	Name       string
	ProviderID int64
	Completion models.Completion
	Actor      models.Actor
	Reason     string
}

// Apply runs the transition named by a against booking id. The payout is
// non-nil only for a complete action that produced (or already had) one.
func (m *Machine) Apply(ctx context.Context, id int64, a Action) (*models.Booking, *models.Payout, error) {
	switch strings.ToLower(strings.TrimSpace(a.Name)) {
	case ActionAssign:
		b, err := m.Assign(ctx, id, a.ProviderID)
		return b, nil, err
	case ActionStart:
		b, err := m.Start(ctx, id, a.ProviderID)
		return b, nil, err
	case ActionComplete:
		return m.Complete(ctx, id, a.ProviderID, a.Completion)
	case ActionCancel:
		b, err := m.Cancel(ctx, id, a.Actor, a.Reason)
		return b, nil, err
	default:
		return nil, nil, domain.Invalid("action", "must be one of assign, start, complete, cancel")
	}
}

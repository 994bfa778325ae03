package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/honeyhive/backend/internal/models"
)

// Action is a lifecycle operation a caller asks to perform on an application.
type Action string

const (
	ActionAccept   Action = "accept"
	ActionReject   Action = "reject"
	ActionWithdraw Action = "withdraw"
	ActionView     Action = "view"
)

// Caller is the authenticated identity behind a request.
type Caller struct {
	ID   uuid.UUID
	Role string
}

// Authorizer decides whether caller may perform action on app. It returns
// ErrNotAuthorized (possibly wrapped) when the answer is no.
type Authorizer interface {
	Authorize(ctx context.Context, caller Caller, action Action, app *models.Application) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, caller Caller, action Action, app *models.Application) error

func (f AuthorizerFunc) Authorize(ctx context.Context, caller Caller, action Action, app *models.Application) error {
	return f(ctx, caller, action, app)
}

// OwnershipPolicy lets job owners decide on applications to their jobs and
// applicants withdraw their own. Admins may reject (moderation) and view.
type OwnershipPolicy struct {
	Jobs JobCatalog
}

func (p OwnershipPolicy) Authorize(ctx context.Context, caller Caller, action Action, app *models.Application) error {
	if caller.ID == uuid.Nil {
		return ErrNotAuthorized
	}
	isAdmin := caller.Role == models.RoleAdmin
	switch action {
	case ActionWithdraw:
		if caller.ID == app.ApplicantID {
			return nil
		}
	case ActionAccept, ActionReject, ActionView:
		if action == ActionReject && isAdmin {
			return nil
		}
		if action == ActionView && (isAdmin || caller.ID == app.ApplicantID) {
			return nil
		}
		owner, err := p.Jobs.OwnerOf(ctx, app.JobID)
		if err != nil {
			return fmt.Errorf("resolve job owner: %w", err)
		}
		if owner == caller.ID {
			return nil
		}
	}
	return ErrNotAuthorized
}

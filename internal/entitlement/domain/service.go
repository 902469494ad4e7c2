package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ModuleChange describes the outcome of an activation or deactivation.
// AccessUntil is set on deactivations only: the instant access ends.
type ModuleChange struct {
	ModuleCode  string
	Immediate   bool
	AccessUntil *time.Time
}

// ModuleStatus is one row of a module listing.
type ModuleStatus struct {
	ModuleCode          string
	Active              bool
	PendingDeactivation bool
	EnabledAt           time.Time
	DisabledAt          *time.Time
}

// Service drives the module entitlement lifecycle on behalf of an
// authenticated user.
type Service interface {
	Activate(ctx context.Context, userID snowflake.ID, moduleCode string) (*ModuleChange, error)
	Deactivate(ctx context.Context, userID snowflake.ID, moduleCode string) (*ModuleChange, error)
	List(ctx context.Context, userID snowflake.ID) ([]ModuleStatus, error)
}

// Package domain defines the billing provider boundary. The rest of the
// codebase talks to subscriptions and line items through Gateway and never
// imports the provider SDK directly.
package domain

import (
	"context"
	"errors"
	"time"
)

// SubscriptionStatus mirrors the provider's subscription lifecycle states.
type SubscriptionStatus string

const (
	StatusTrialing   SubscriptionStatus = "trialing"
	StatusActive     SubscriptionStatus = "active"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusCanceled   SubscriptionStatus = "canceled"
	StatusUnpaid     SubscriptionStatus = "unpaid"
	StatusIncomplete SubscriptionStatus = "incomplete"
)

// Subscription is a point-in-time snapshot of a provider subscription.
type Subscription struct {
	ID               string
	Status           SubscriptionStatus
	CurrentPeriodEnd time.Time
}

// InPaidPeriod reports whether the subscription currently grants paid access.
func (s *Subscription) InPaidPeriod() bool {
	return s.Status == StatusActive || s.Status == StatusTrialing
}

// RenewalEvent is a verified billing-cycle renewal notification. Raw holds
// the provider's object payload for audit storage.
type RenewalEvent struct {
	EventID        string
	SubscriptionID string
	PeriodStart    time.Time
	Raw            []byte
}

// Gateway is the outbound interface to the billing provider.
type Gateway interface {
	// RetrieveSubscription fetches the current snapshot of a subscription.
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// CreateLineItem adds a recurring charge for a module to the
	// subscription and returns the provider line item id.
	CreateLineItem(ctx context.Context, subscriptionID, moduleCode string) (string, error)

	// MarkPendingDeletion annotates a line item as scheduled for removal at
	// the end of the current period. The charge itself is untouched.
	MarkPendingDeletion(ctx context.Context, lineItemID string, removeAt time.Time) error

	// UnmarkPendingDeletion removes a previous pending-removal annotation.
	UnmarkPendingDeletion(ctx context.Context, lineItemID string) error

	// DeleteLineItem removes a line item. A line item that no longer exists
	// on the provider side is treated as already deleted.
	DeleteLineItem(ctx context.Context, lineItemID string) error

	// ParseRenewal verifies a webhook payload and extracts a renewal event.
	// Payloads for event types other than renewals yield ErrUnsupportedEvent.
	ParseRenewal(payload []byte, signature string) (*RenewalEvent, error)
}

var (
	ErrSubscriptionNotFound     = errors.New("subscription_not_found")
	ErrInvalidSignature         = errors.New("invalid_signature")
	ErrUnsupportedEvent         = errors.New("unsupported_event")
	ErrModulePriceNotConfigured = errors.New("module_price_not_configured")
)

// Package stripe implements the billing gateway against the Stripe API.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/subscriptionitem"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/featuregate/internal/billing/domain"
	"github.com/smallbiznis/featuregate/internal/config"
)

const (
	metadataModuleCode      = "module_code"
	metadataPendingDeletion = "pending_deletion"
	metadataRemoveAt        = "remove_at"
)

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
}

type Gateway struct {
	log           *zap.Logger
	webhookSecret string
	modulePrices  map[string]string
}

// New constructs the Stripe gateway. The API key is installed globally on
// the Stripe SDK, matching how the SDK documents single-account usage.
func New(p Params) domain.Gateway {
	stripeapi.Key = p.Config.StripeAPIKey

	return &Gateway{
		log:           p.Log.Named("billing.stripe"),
		webhookSecret: p.Config.StripeWebhookSecret,
		modulePrices:  p.Config.StripeModulePrices,
	}
}

func (g *Gateway) RetrieveSubscription(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	params := &stripeapi.SubscriptionParams{}
	params.Context = ctx

	sub, err := subscription.Get(subscriptionID, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, err
	}

	return &domain.Subscription{
		ID:               sub.ID,
		Status:           domain.SubscriptionStatus(sub.Status),
		CurrentPeriodEnd: periodEnd(sub),
	}, nil
}

func (g *Gateway) CreateLineItem(ctx context.Context, subscriptionID, moduleCode string) (string, error) {
	priceID, ok := g.modulePrices[moduleCode]
	if !ok {
		return "", domain.ErrModulePriceNotConfigured
	}

	params := &stripeapi.SubscriptionItemParams{
		Subscription:      stripeapi.String(subscriptionID),
		Price:             stripeapi.String(priceID),
		Quantity:          stripeapi.Int64(1),
		ProrationBehavior: stripeapi.String("create_prorations"),
	}
	params.Context = ctx
	params.AddMetadata(metadataModuleCode, moduleCode)

	item, err := subscriptionitem.New(params)
	if err != nil {
		return "", err
	}

	return item.ID, nil
}

func (g *Gateway) MarkPendingDeletion(ctx context.Context, lineItemID string, removeAt time.Time) error {
	params := &stripeapi.SubscriptionItemParams{}
	params.Context = ctx
	params.AddMetadata(metadataPendingDeletion, "true")
	params.AddMetadata(metadataRemoveAt, strconv.FormatInt(removeAt.Unix(), 10))

	_, err := subscriptionitem.Update(lineItemID, params)
	if err != nil && isResourceMissing(err) {
		// The charge is already gone; nothing left to annotate.
		return nil
	}
	return err
}

func (g *Gateway) UnmarkPendingDeletion(ctx context.Context, lineItemID string) error {
	params := &stripeapi.SubscriptionItemParams{}
	params.Context = ctx
	// Setting a metadata key to the empty string deletes it.
	params.AddMetadata(metadataPendingDeletion, "")
	params.AddMetadata(metadataRemoveAt, "")

	_, err := subscriptionitem.Update(lineItemID, params)
	if err != nil && isResourceMissing(err) {
		return nil
	}
	return err
}

func (g *Gateway) DeleteLineItem(ctx context.Context, lineItemID string) error {
	params := &stripeapi.SubscriptionItemParams{
		ProrationBehavior: stripeapi.String("none"),
	}
	params.Context = ctx

	_, err := subscriptionitem.Del(lineItemID, params)
	if err != nil && isResourceMissing(err) {
		return nil
	}
	return err
}

// invoicePayload covers the invoice fields renewals need, across both the
// legacy shape (top level subscription) and the current one (under parent).
type invoicePayload struct {
	Subscription string `json:"subscription"`
	PeriodStart  int64  `json:"period_start"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (g *Gateway) ParseRenewal(payload []byte, signature string) (*domain.RenewalEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, domain.ErrInvalidSignature
	}

	switch event.Type {
	case "invoice.paid", "invoice.payment_succeeded":
	default:
		return nil, domain.ErrUnsupportedEvent
	}

	var invoice invoicePayload
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return nil, domain.ErrUnsupportedEvent
	}

	subscriptionID := strings.TrimSpace(invoice.Subscription)
	if subscriptionID == "" {
		subscriptionID = strings.TrimSpace(invoice.Parent.SubscriptionDetails.Subscription)
	}
	if subscriptionID == "" {
		// One-off invoices carry no subscription.
		return nil, domain.ErrUnsupportedEvent
	}

	periodStart := event.Created
	if invoice.PeriodStart > 0 {
		periodStart = invoice.PeriodStart
	}

	return &domain.RenewalEvent{
		EventID:        event.ID,
		SubscriptionID: subscriptionID,
		PeriodStart:    time.Unix(periodStart, 0).UTC(),
		Raw:            event.Data.Raw,
	}, nil
}

// periodEnd resolves the subscription's current period end. Stripe reports
// the boundary per item, so take the furthest one.
func periodEnd(sub *stripeapi.Subscription) time.Time {
	var max int64
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item.CurrentPeriodEnd > max {
				max = item.CurrentPeriodEnd
			}
		}
	}
	if max == 0 {
		return time.Time{}
	}
	return time.Unix(max, 0).UTC()
}

func isResourceMissing(err error) bool {
	var stripeErr *stripeapi.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripeapi.ErrorCodeResourceMissing
	}
	return false
}

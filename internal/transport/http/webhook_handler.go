// Package http contains the chi handlers for both HTTP surfaces: the license
// server (webhook, validation, admin) and the download tracker.
package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"elvlicense/internal/activity"
	apierrors "elvlicense/internal/errors"
	"elvlicense/internal/infrastructure"
	"elvlicense/internal/services"
)

// webhookBodyLimit caps the raw payload read for signature verification
const webhookBodyLimit = 1 << 20

// LineItemSource fetches the purchased line items of a checkout session.
// The production implementation calls the Stripe API; tests substitute it.
type LineItemSource interface {
	ListLineItems(ctx context.Context, sessionID string) ([]services.CheckoutItem, error)
}

// StripeLineItems is the API-backed line item source
type StripeLineItems struct{}

// ListLineItems fetches the line items for a checkout session from Stripe
func (StripeLineItems) ListLineItems(ctx context.Context, sessionID string) ([]services.CheckoutItem, error) {
	params := &stripe.CheckoutSessionListLineItemsParams{
		Session: stripe.String(sessionID),
	}
	params.Context = ctx

	var items []services.CheckoutItem
	iter := checkoutsession.ListLineItems(params)
	for iter.Next() {
		li := iter.LineItem()
		item := services.CheckoutItem{ItemID: li.ID, Quantity: li.Quantity}
		if li.Price != nil {
			item.PriceID = li.Price.ID
		}
		items = append(items, item)
	}
	return items, iter.Err()
}

// WebhookHandler processes signed Stripe events
type WebhookHandler struct {
	service   *services.LicenseService
	activity  *activity.Logger
	lineItems LineItemSource
	secret    string
	logger    *slog.Logger
	metrics   *infrastructure.BusinessMetrics
}

// NewWebhookHandler creates the webhook handler
func NewWebhookHandler(
	service *services.LicenseService,
	activityLog *activity.Logger,
	lineItems LineItemSource,
	webhookSecret string,
	logger *slog.Logger,
	metrics *infrastructure.BusinessMetrics,
) *WebhookHandler {
	return &WebhookHandler{
		service:   service,
		activity:  activityLog,
		lineItems: lineItems,
		secret:    webhookSecret,
		logger:    logger.With(slog.String("handler", "webhook")),
		metrics:   metrics,
	}
}

// webhookResponse acknowledges a processed event
type webhookResponse struct {
	Received bool   `json:"received"`
	Status   string `json:"status"`
	Licenses int    `json:"licenses,omitempty"`
	Skipped  int    `json:"skipped,omitempty"`
}

// HandleWebhook verifies the signature and dispatches the event.
// Signature verification is the authentication mechanism for this endpoint;
// a bad signature fails closed with 400 and a high-severity security event.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(infrastructure.ServiceName).Start(r.Context(), "webhook.handle")
	defer span.End()

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.activity.Security(ctx, "invalid_webhook_signature", activity.SeverityHigh, map[string]any{
			"remote_addr": r.RemoteAddr,
			"error":       err.Error(),
		})
		h.logger.WarnContext(ctx, "webhook signature verification failed",
			slog.String("remote_addr", r.RemoteAddr))
		render.Render(w, r, apierrors.ErrInvalidSignature)
		return
	}

	span.SetAttributes(attribute.String("stripe.event_type", string(event.Type)))
	if h.metrics != nil {
		h.metrics.WebhookEventsTotal.Add(ctx, 1,
			attributeOption("event_type", string(event.Type)))
	}

	if event.Type != "checkout.session.completed" {
		h.logger.InfoContext(ctx, "webhook event ignored",
			slog.String("event_type", string(event.Type)),
			slog.String("event_id", event.ID))
		render.JSON(w, r, webhookResponse{Received: true, Status: "ignored"})
		return
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		h.activity.Error(ctx, err, map[string]any{"event_id": event.ID})
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	checkout, err := h.buildCheckout(ctx, &session)
	if err != nil {
		h.activity.Error(ctx, err, map[string]any{"session_id": session.ID})
		render.Render(w, r, apierrors.StorageError(err))
		return
	}

	result, err := h.service.IssueFromCheckout(ctx, checkout)
	if err != nil {
		h.logger.ErrorContext(ctx, "checkout processing failed",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.ErrInternalServer)
		return
	}

	render.JSON(w, r, webhookResponse{
		Received: true,
		Status:   "processed",
		Licenses: len(result.Issued),
		Skipped:  result.Skipped,
	})
}

// buildCheckout maps the Stripe session onto the service's checkout type
func (h *WebhookHandler) buildCheckout(ctx context.Context, session *stripe.CheckoutSession) (services.CheckoutSession, error) {
	checkout := services.CheckoutSession{
		SessionID:     session.ID,
		CustomerEmail: session.CustomerEmail,
	}
	if details := session.CustomerDetails; details != nil {
		if checkout.CustomerEmail == "" {
			checkout.CustomerEmail = details.Email
		}
		checkout.CustomerName = details.Name
		if details.Address != nil {
			checkout.BillingAddress = formatAddress(details.Address)
		}
	}
	if session.PaymentIntent != nil {
		checkout.PaymentIntent = session.PaymentIntent.ID
	}

	items, err := h.lineItems.ListLineItems(ctx, session.ID)
	if err != nil {
		return checkout, err
	}
	checkout.Items = items
	return checkout, nil
}

func formatAddress(addr *stripe.Address) string {
	out := ""
	for _, part := range []string{addr.Line1, addr.Line2, addr.City, addr.State, addr.PostalCode, addr.Country} {
		if part == "" {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += part
	}
	return out
}

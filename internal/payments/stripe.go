package payments

import (
	"context"
	"errors"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"github.com/example/ride-booking/internal/apperr"
)

// StripeClient settles fares through manually captured PaymentIntents.
type StripeClient struct {
	api *client.API
}

var _ Provider = (*StripeClient)(nil)

func NewStripeClient(apiKey string) *StripeClient {
	return &StripeClient{api: client.New(apiKey, nil)}
}

// Hold authorizes amount (minor units) against the booking. Retrying the
// same booking reuses the intent through the idempotency key.
func (s *StripeClient) Hold(ctx context.Context, amount int64, currency, bookingID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	params.AddMetadata("booking_id", bookingID)
	params.SetIdempotencyKey("hold-" + bookingID)
	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return "", stripeErr(err)
	}
	return pi.ID, nil
}

func (s *StripeClient) Capture(ctx context.Context, ref string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	_, err := s.api.PaymentIntents.Capture(ref, params)
	return stripeErr(err)
}

func (s *StripeClient) Cancel(ctx context.Context, ref string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := s.api.PaymentIntents.Cancel(ref, params)
	return stripeErr(err)
}

// stripeErr reports card declines as conflicts and anything else as a
// provider outage.
func stripeErr(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if errors.As(err, &se) && se.Type == stripe.ErrorTypeCard {
		return apperr.Wrap(apperr.Conflict, err, "payment declined")
	}
	return apperr.Wrap(apperr.Unavailable, err, "payment provider unavailable")
}

// Package payments settles completed bookings. Funds are first held, then
// captured once the booking has been marked paid, or released if it could
// not be.
package payments

import "context"

type Provider interface {
	// Hold reserves amount (in minor units) and returns a reference for
	// the later Capture or Cancel.
	Hold(ctx context.Context, amount int64, currency, bookingID string) (string, error)
	Capture(ctx context.Context, ref string) error
	Cancel(ctx context.Context, ref string) error
}

package payments

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/example/ride-booking/internal/apperr"
)

type holdState int

const (
	held holdState = iota
	captured
	released
)

// Cash records holds in memory. It is used when no card provider is
// configured: the fare is collected by the driver and only the ledger
// entry is kept here.
type Cash struct {
	mu    sync.Mutex
	holds map[string]cashHold
}

type cashHold struct {
	bookingID string
	amount    int64
	state     holdState
}

func NewCash() *Cash {
	return &Cash{holds: make(map[string]cashHold)}
}

func (c *Cash) Hold(_ context.Context, amount int64, _ string, bookingID string) (string, error) {
	if amount <= 0 {
		return "", apperr.New(apperr.InvalidArgument, "amount must be positive")
	}
	ref := "cash_" + uuid.NewString()
	c.mu.Lock()
	c.holds[ref] = cashHold{bookingID: bookingID, amount: amount}
	c.mu.Unlock()
	return ref, nil
}

func (c *Cash) Capture(_ context.Context, ref string) error {
	return c.settle(ref, captured)
}

func (c *Cash) Cancel(_ context.Context, ref string) error {
	return c.settle(ref, released)
}

func (c *Cash) settle(ref string, to holdState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.holds[ref]
	if !ok {
		return apperr.Errorf(apperr.NotFound, "unknown hold %s", ref)
	}
	if h.state != held {
		return apperr.Errorf(apperr.Conflict, "hold %s already settled", ref)
	}
	h.state = to
	c.holds[ref] = h
	return nil
}

// Captured sums the captured amounts for a booking.
func (c *Cash) Captured(bookingID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, h := range c.holds {
		if h.bookingID == bookingID && h.state == captured {
			total += h.amount
		}
	}
	return total
}

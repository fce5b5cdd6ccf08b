package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/ride-booking/internal/models"
)

// MemoryStore keeps everything in process. A single lock makes every
// conditional write a plain compare-and-set.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]*models.User
	emails        map[string]string
	bookings      map[string]*models.Booking
	conversations map[string]*models.Conversation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*models.User),
		emails:        make(map[string]string),
		bookings:      make(map[string]*models.Booking),
		conversations: make(map[string]*models.Conversation),
	}
}

func (m *MemoryStore) Close(context.Context) error { return nil }

func (m *MemoryStore) InsertUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := strings.ToLower(u.Email)
	if _, ok := m.users[u.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := m.emails[email]; ok {
		return ErrDuplicate
	}
	m.users[u.ID] = u.Clone()
	m.emails[email] = u.ID
	return nil
}

func (m *MemoryStore) User(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (m *MemoryStore) UserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.emails[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return m.users[id].Clone(), nil
}

func (m *MemoryStore) ListUsers(context.Context) ([]*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// driver returns the stored driver record. Callers hold the write lock.
func (m *MemoryStore) driver(id string) (*models.User, error) {
	u, ok := m.users[id]
	if !ok || u.Role != models.RoleDriver || u.Driver == nil {
		return nil, ErrNotFound
	}
	return u, nil
}

func (m *MemoryStore) SetAvailability(_ context.Context, id string, available bool) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.driver(id)
	if err != nil {
		return nil, err
	}
	u.Driver.Available = available
	return u.Clone(), nil
}

func (m *MemoryStore) SetLocation(_ context.Context, id string, loc models.Coord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.driver(id)
	if err != nil {
		return err
	}
	u.Driver.LastLocation = loc
	return nil
}

func (m *MemoryStore) IncrementTrips(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.driver(id)
	if err != nil {
		return err
	}
	u.Driver.TotalTrips++
	return nil
}

func (m *MemoryStore) SetDriverRating(_ context.Context, id string, rating float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.driver(id)
	if err != nil {
		return err
	}
	u.Driver.Rating = rating
	return nil
}

func (m *MemoryStore) InsertBooking(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[b.ID]; ok {
		return ErrDuplicate
	}
	m.bookings[b.ID] = b.Clone()
	return nil
}

func (m *MemoryStore) Booking(_ context.Context, id string) (*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (m *MemoryStore) FindBookings(_ context.Context, q BookingQuery) ([]*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Booking, 0)
	for _, b := range m.bookings {
		if q.Match(b) {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// mutate runs fn on the stored booking under the write lock. fn reports
// whether its guard held; if not, nothing is written.
func (m *MemoryStore) mutate(id string, at time.Time, fn func(b *models.Booking) bool) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := stored.Clone()
	if !fn(next) {
		return nil, ErrConflict
	}
	next.UpdatedAt = at
	m.bookings[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) AssignDriver(_ context.Context, id, driverID string, tier models.Tier, at time.Time) (*models.Booking, error) {
	return m.mutate(id, at, func(b *models.Booking) bool {
		if b.Status != models.StatusPending || b.DriverID != "" || b.Tier != tier {
			return false
		}
		b.DriverID = driverID
		b.Status = models.StatusAccepted
		return true
	})
}

func (m *MemoryStore) UpdateBooking(_ context.Context, id string, expect models.Status, p models.BookingPatch, at time.Time) (*models.Booking, error) {
	return m.mutate(id, at, func(b *models.Booking) bool {
		if b.Status != expect {
			return false
		}
		p.Apply(b)
		return true
	})
}

func (m *MemoryStore) SetRating(_ context.Context, id string, r models.Rating, at time.Time) (*models.Booking, error) {
	return m.mutate(id, at, func(b *models.Booking) bool {
		if b.Status != models.StatusCompleted || b.Rated() {
			return false
		}
		b.Rating = &r
		return true
	})
}

func (m *MemoryStore) MarkPaid(_ context.Context, id, ref string, at time.Time) (*models.Booking, error) {
	return m.mutate(id, at, func(b *models.Booking) bool {
		if b.Status != models.StatusCompleted || b.PaymentStatus != models.PaymentUnpaid {
			return false
		}
		b.PaymentStatus = models.PaymentPaid
		b.PaymentRef = ref
		return true
	})
}

func (m *MemoryStore) DriverScores(_ context.Context, driverID string) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum, count := 0, 0
	for _, b := range m.bookings {
		if b.DriverID == driverID && b.Rated() {
			sum += b.Rating.Score
			count++
		}
	}
	return sum, count, nil
}

func (m *MemoryStore) Conversation(_ context.Context, bookingID string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (m *MemoryStore) CreateConversation(_ context.Context, c *models.Conversation) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.conversations[c.BookingID]; ok {
		return existing.Clone(), nil
	}
	stored := c.Clone()
	if stored.Messages == nil {
		stored.Messages = []models.Message{}
	}
	m.conversations[c.BookingID] = stored
	return stored.Clone(), nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, bookingID string, msg models.Message) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	c.Messages = append(c.Messages, msg)
	if msg.CreatedAt.After(c.LastUpdated) {
		c.LastUpdated = msg.CreatedAt
	}
	return c.Clone(), nil
}

func (m *MemoryStore) MarkRead(_ context.Context, bookingID, readerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[bookingID]
	if !ok {
		return 0, ErrNotFound
	}
	n := 0
	for i := range c.Messages {
		if c.Messages[i].SenderID != readerID && !c.Messages[i].Read {
			c.Messages[i].Read = true
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ConversationsOf(_ context.Context, actorID string) ([]*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Conversation, 0)
	for _, c := range m.conversations {
		if c.CustomerID == actorID || c.DriverID == actorID {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdated.After(out[j].LastUpdated) })
	return out, nil
}

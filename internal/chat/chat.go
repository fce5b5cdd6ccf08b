// Package chat is the per-booking conversation between a customer and
// the assigned driver.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/example/ride-booking/internal/apperr"
	"github.com/example/ride-booking/internal/events"
	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/observability"
	"github.com/example/ride-booking/internal/storage"
)

// MaxMessageLen caps message content, in characters.
const MaxMessageLen = 4000

type Service struct {
	Bookings storage.BookingStore
	Chats    storage.ChatStore
	Notify   *events.Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) booking(ctx context.Context, id string) (*models.Booking, error) {
	b, err := s.Bookings.Booking(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Errorf(apperr.NotFound, "booking %s not found", id)
	}
	return b, err
}

func (s *Service) participant(ctx context.Context, bookingID, actorID string) (*models.Booking, error) {
	b, err := s.booking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.Participant(actorID) {
		return nil, apperr.New(apperr.Forbidden, "not a participant of this booking")
	}
	return b, nil
}

// Open returns the booking's conversation, creating it on first use. A
// booking without a driver has no conversation yet.
func (s *Service) Open(ctx context.Context, bookingID string) (*models.Conversation, error) {
	c, err := s.Chats.Conversation(ctx, bookingID)
	if err == nil || !errors.Is(err, storage.ErrNotFound) {
		return c, err
	}
	b, err := s.booking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, b)
}

func (s *Service) open(ctx context.Context, b *models.Booking) (*models.Conversation, error) {
	if !b.Assigned() {
		return nil, apperr.New(apperr.Conflict, "booking has not been matched with a driver yet")
	}
	now := s.now()
	return s.Chats.CreateConversation(ctx, &models.Conversation{
		BookingID:   b.ID,
		CustomerID:  b.CustomerID,
		DriverID:    b.DriverID,
		Messages:    []models.Message{},
		LastUpdated: now,
		CreatedAt:   now,
	})
}

func (s *Service) Post(ctx context.Context, bookingID, senderID, text string) (*models.Message, error) {
	content := strings.TrimSpace(text)
	if content == "" {
		return nil, apperr.New(apperr.InvalidArgument, "message cannot be empty")
	}
	if utf8.RuneCountInString(content) > MaxMessageLen {
		return nil, apperr.Errorf(apperr.InvalidArgument, "message longer than %d characters", MaxMessageLen)
	}
	b, err := s.participant(ctx, bookingID, senderID)
	if err != nil {
		return nil, err
	}
	if !b.Assigned() {
		return nil, apperr.New(apperr.Conflict, "booking has not been matched with a driver yet")
	}
	if _, err := s.Chats.Conversation(ctx, bookingID); errors.Is(err, storage.ErrNotFound) {
		if _, err := s.open(ctx, b); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	m := models.Message{
		ID:        uuid.NewString(),
		SenderID:  senderID,
		Content:   content,
		CreatedAt: s.now(),
	}
	if _, err := s.Chats.AppendMessage(ctx, bookingID, m); err != nil {
		return nil, err
	}
	observability.MessagesPosted.Inc()
	s.Notify.MessagePosted(ctx, bookingID, m)
	return &m, nil
}

// MarkRead flags everything the other participant sent as read and
// reports how many messages this call flipped.
func (s *Service) MarkRead(ctx context.Context, bookingID, readerID string) (int, error) {
	if _, err := s.participant(ctx, bookingID, readerID); err != nil {
		return 0, err
	}
	n, err := s.Chats.MarkRead(ctx, bookingID, readerID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	return n, err
}

// History returns the messages of a booking in posting order.
func (s *Service) History(ctx context.Context, bookingID, callerID string) ([]models.Message, error) {
	if _, err := s.participant(ctx, bookingID, callerID); err != nil {
		return nil, err
	}
	c, err := s.Chats.Conversation(ctx, bookingID)
	if errors.Is(err, storage.ErrNotFound) {
		return []models.Message{}, nil
	}
	if err != nil {
		return nil, err
	}
	return c.Messages, nil
}

// Fetch opens the conversation for a participant and marks what they
// have been sent as read.
func (s *Service) Fetch(ctx context.Context, bookingID, callerID string) (*models.Conversation, error) {
	b, err := s.participant(ctx, bookingID, callerID)
	if err != nil {
		return nil, err
	}
	if !b.Assigned() {
		return nil, apperr.New(apperr.NotFound, "chat not found")
	}
	c, err := s.open(ctx, b)
	if err != nil {
		return nil, err
	}
	if c.Unread(callerID) == 0 {
		return c, nil
	}
	if _, err := s.Chats.MarkRead(ctx, bookingID, callerID); err != nil {
		return nil, err
	}
	return s.Chats.Conversation(ctx, bookingID)
}

// Mine lists the caller's conversations, most recently active first.
func (s *Service) Mine(ctx context.Context, callerID string) ([]*models.Conversation, error) {
	return s.Chats.ConversationsOf(ctx, callerID)
}

// CanJoin reports whether actorID may follow a booking's realtime room.
func (s *Service) CanJoin(ctx context.Context, actorID, bookingID string) error {
	_, err := s.participant(ctx, bookingID, actorID)
	return err
}

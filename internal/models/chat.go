package models

import "time"

// Conversation is the message history of one matched booking.
type Conversation struct {
	BookingID   string    `json:"booking" bson:"_id"`
	CustomerID  string    `json:"customer" bson:"customer"`
	DriverID    string    `json:"driver" bson:"driver"`
	Messages    []Message `json:"messages" bson:"messages"`
	LastUpdated time.Time `json:"lastUpdated" bson:"lastUpdated"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
}

type Message struct {
	ID        string    `json:"id" bson:"id"`
	SenderID  string    `json:"sender" bson:"sender"`
	Content   string    `json:"content" bson:"content"`
	Read      bool      `json:"readStatus" bson:"readStatus"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = append([]Message(nil), c.Messages...)
	return &out
}

// Unread counts messages addressed to reader that it has not read yet.
func (c *Conversation) Unread(reader string) int {
	n := 0
	for _, m := range c.Messages {
		if m.SenderID != reader && !m.Read {
			n++
		}
	}
	return n
}

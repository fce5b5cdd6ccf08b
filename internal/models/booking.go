package models

import "time"

type Booking struct {
	ID               string        `json:"id" bson:"_id"`
	CustomerID       string        `json:"user" bson:"user"`
	DriverID         string        `json:"driver,omitempty" bson:"driver,omitempty"`
	PickupLocation   string        `json:"pickupLocation" bson:"pickupLocation"`
	Destination      string        `json:"destination" bson:"destination"`
	PickupPoint      *Coord        `json:"pickupPoint,omitempty" bson:"pickupPoint,omitempty"`
	DestinationPoint *Coord        `json:"destinationPoint,omitempty" bson:"destinationPoint,omitempty"`
	Tier             Tier          `json:"motorType" bson:"motorType"`
	PickupTime       time.Time     `json:"pickupTime" bson:"pickupTime"`
	EstimatedPrice   int64         `json:"estimatedPrice" bson:"estimatedPrice"`
	Status           Status        `json:"status" bson:"status"`
	PaymentStatus    PaymentStatus `json:"paymentStatus" bson:"paymentStatus"`
	PaymentRef       string        `json:"paymentRef,omitempty" bson:"paymentRef,omitempty"`
	Rating           *Rating       `json:"rating,omitempty" bson:"rating,omitempty"`
	CreatedAt        time.Time     `json:"createdAt" bson:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt" bson:"updatedAt"`
}

type Rating struct {
	Score  int    `json:"score" bson:"score"`
	Review string `json:"review" bson:"review"`
}

func (b *Booking) Assigned() bool { return b.DriverID != "" }

func (b *Booking) Rated() bool { return b.Rating != nil && b.Rating.Score > 0 }

// Participant reports whether id is the customer or the assigned driver.
func (b *Booking) Participant(id string) bool {
	return id != "" && (id == b.CustomerID || id == b.DriverID)
}

func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	if b.PickupPoint != nil {
		p := *b.PickupPoint
		c.PickupPoint = &p
	}
	if b.DestinationPoint != nil {
		p := *b.DestinationPoint
		c.DestinationPoint = &p
	}
	if b.Rating != nil {
		r := *b.Rating
		c.Rating = &r
	}
	return &c
}

// Field names a booking attribute a patch may touch.
type Field string

const (
	FieldPickupLocation Field = "pickupLocation"
	FieldDestination    Field = "destination"
	FieldPickupTime     Field = "pickupTime"
	FieldTier           Field = "motorType"
	FieldStatus         Field = "status"
	FieldPaymentStatus  Field = "paymentStatus"
	FieldCustomer       Field = "user"
	FieldDriver         Field = "driver"
	FieldEstimatedPrice Field = "estimatedPrice"
	FieldRating         Field = "rating"
	FieldCreatedAt      Field = "createdAt"
)

// BookingPatch is a partial update. Nil fields are left untouched. The
// immutable fields exist so a patch naming them can be refused rather
// than silently dropped.
type BookingPatch struct {
	PickupLocation *string        `json:"pickupLocation,omitempty"`
	Destination    *string        `json:"destination,omitempty"`
	PickupTime     *time.Time     `json:"pickupTime,omitempty"`
	Tier           *Tier          `json:"motorType,omitempty"`
	Status         *Status        `json:"status,omitempty"`
	PaymentStatus  *PaymentStatus `json:"paymentStatus,omitempty"`

	Customer       *string    `json:"user,omitempty"`
	Driver         *string    `json:"driver,omitempty"`
	EstimatedPrice *int64     `json:"estimatedPrice,omitempty"`
	Rating         *Rating    `json:"rating,omitempty"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
}

// Fields lists the fields the patch sets, in a stable order.
func (p BookingPatch) Fields() []Field {
	var out []Field
	add := func(set bool, f Field) {
		if set {
			out = append(out, f)
		}
	}
	add(p.PickupLocation != nil, FieldPickupLocation)
	add(p.Destination != nil, FieldDestination)
	add(p.PickupTime != nil, FieldPickupTime)
	add(p.Tier != nil, FieldTier)
	add(p.Status != nil, FieldStatus)
	add(p.PaymentStatus != nil, FieldPaymentStatus)
	add(p.Customer != nil, FieldCustomer)
	add(p.Driver != nil, FieldDriver)
	add(p.EstimatedPrice != nil, FieldEstimatedPrice)
	add(p.Rating != nil, FieldRating)
	add(p.CreatedAt != nil, FieldCreatedAt)
	return out
}

func (p BookingPatch) Empty() bool { return len(p.Fields()) == 0 }

// Apply writes the mutable fields of p onto b.
func (p BookingPatch) Apply(b *Booking) {
	if p.PickupLocation != nil {
		b.PickupLocation = *p.PickupLocation
	}
	if p.Destination != nil {
		b.Destination = *p.Destination
	}
	if p.PickupTime != nil {
		b.PickupTime = *p.PickupTime
	}
	if p.Tier != nil {
		b.Tier = *p.Tier
	}
	if p.Status != nil {
		b.Status = *p.Status
	}
	if p.PaymentStatus != nil {
		b.PaymentStatus = *p.PaymentStatus
	}
}

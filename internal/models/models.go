package models

import "time"

type Coord struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lon float64 `json:"lon" bson:"lon"`
}

// DriverLocation is a location ping for one driver, as carried on the
// location topic and stored in the location index.
type DriverLocation struct {
	ID      string    `json:"id"`
	Loc     Coord     `json:"loc"`
	Updated time.Time `json:"updated"`
}

type Role string

const (
	RoleCustomer Role = "user"
	RoleDriver   Role = "driver"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleDriver, RoleAdmin:
		return true
	}
	return false
}

func (r Role) CanRequestRides() bool { return r == RoleCustomer }
func (r Role) CanDrive() bool        { return r == RoleDriver }
func (r Role) IsAdmin() bool         { return r == RoleAdmin }

// Tier is the vehicle class a booking asks for and a driver declares.
type Tier string

const (
	TierHemat   Tier = "hemat"
	TierStandar Tier = "standar"
	TierComfort Tier = "comfort"
)

// Tiers lists every tier in ascending base fee order.
var Tiers = []Tier{TierHemat, TierStandar, TierComfort}

func (t Tier) Valid() bool {
	for _, v := range Tiers {
		if t == v {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusOnTheWay  Status = "on_the_way"
	StatusPickedUp  Status = "picked_up"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// lifecycle is the forward chain. cancelled hangs off pending only.
var lifecycle = []Status{StatusPending, StatusAccepted, StatusOnTheWay, StatusPickedUp, StatusCompleted}

func (s Status) Valid() bool {
	return s == StatusCancelled || s.index() >= 0
}

func (s Status) index() int {
	for i, v := range lifecycle {
		if v == s {
			return i
		}
	}
	return -1
}

// Next returns the immediate successor of s on the forward chain.
func (s Status) Next() (Status, bool) {
	i := s.index()
	if i < 0 || i == len(lifecycle)-1 {
		return "", false
	}
	return lifecycle[i+1], true
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to Status) bool {
	if from == StatusPending && to == StatusCancelled {
		return true
	}
	next, ok := from.Next()
	return ok && next == to
}

// DriverProgression holds the states a driver may advance a booking into.
var DriverProgression = []Status{StatusOnTheWay, StatusPickedUp, StatusCompleted}

// ActiveStatuses are the states of a booking a driver is working on.
var ActiveStatuses = []Status{StatusAccepted, StatusOnTheWay, StatusPickedUp}

// FinishedStatuses are the terminal states.
var FinishedStatuses = []Status{StatusCompleted, StatusCancelled}

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

func (p PaymentStatus) Valid() bool { return p == PaymentUnpaid || p == PaymentPaid }

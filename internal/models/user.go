package models

import (
	"errors"
	"time"
)

// DefaultDriverRating is the aggregate a driver starts with before any
// booking has been rated.
const DefaultDriverRating = 5.0

type User struct {
	ID           string         `json:"id" bson:"_id"`
	Name         string         `json:"name" bson:"name"`
	Email        string         `json:"email" bson:"email"`
	Phone        string         `json:"phone" bson:"phone"`
	PasswordHash string         `json:"-" bson:"passwordHash"`
	Role         Role           `json:"role" bson:"role"`
	Driver       *DriverProfile `json:"driverInfo,omitempty" bson:"driverInfo,omitempty"`
	CreatedAt    time.Time      `json:"createdAt" bson:"createdAt"`
}

type DriverProfile struct {
	Tier          Tier    `json:"motorType" bson:"motorType"`
	VehicleModel  string  `json:"motorModel" bson:"motorModel"`
	LicenseNumber string  `json:"licenseNumber" bson:"licenseNumber"`
	Available     bool    `json:"isAvailable" bson:"isAvailable"`
	Rating        float64 `json:"rating" bson:"rating"`
	TotalTrips    int     `json:"totalTrips" bson:"totalTrips"`
	LastLocation  Coord   `json:"lastLocation" bson:"lastLocation"`
}

// NewDriverProfile returns a profile with the defaults a freshly
// registered driver starts from.
func NewDriverProfile(tier Tier, model, license string) *DriverProfile {
	return &DriverProfile{
		Tier:          tier,
		VehicleModel:  model,
		LicenseNumber: license,
		Available:     true,
		Rating:        DefaultDriverRating,
	}
}

// Validate checks the role invariant: the driver profile and its tier,
// model and license are present exactly when the role is driver.
func (u *User) Validate() error {
	if !u.Role.Valid() {
		return errors.New("unknown role")
	}
	if u.Role != RoleDriver {
		if u.Driver != nil {
			return errors.New("driver info is only allowed for drivers")
		}
		return nil
	}
	if u.Driver == nil {
		return errors.New("driver info is required for drivers")
	}
	if !u.Driver.Tier.Valid() {
		return errors.New("motorType must be one of hemat, standar, comfort")
	}
	if u.Driver.VehicleModel == "" {
		return errors.New("motorModel is required for drivers")
	}
	if u.Driver.LicenseNumber == "" {
		return errors.New("licenseNumber is required for drivers")
	}
	return nil
}

func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Driver != nil {
		d := *u.Driver
		c.Driver = &d
	}
	return &c
}

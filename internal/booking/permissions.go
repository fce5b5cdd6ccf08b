package booking

import "github.com/example/ride-booking/internal/models"

// relation is how a caller stands to a booking.
type relation struct {
	owner  bool
	admin  bool
	driver bool
}

func (r relation) any() bool { return r.owner || r.admin || r.driver }

// grant says who may write a field through Update.
type grant struct {
	owner, admin, driver bool
	// pendingOnly fields describe the request and freeze once a driver
	// has taken it.
	pendingOnly bool
}

func (g grant) allows(r relation) bool {
	return (r.owner && g.owner) || (r.admin && g.admin) || (r.driver && g.driver)
}

// permissions is keyed by field. Fields absent from the table are
// immutable through Update.
var permissions = map[models.Field]grant{
	models.FieldPickupLocation: {owner: true, admin: true, pendingOnly: true},
	models.FieldDestination:    {owner: true, admin: true, pendingOnly: true},
	models.FieldPickupTime:     {owner: true, admin: true, pendingOnly: true},
	models.FieldTier:           {owner: true, admin: true, pendingOnly: true},
	models.FieldStatus:         {admin: true, driver: true},
	models.FieldPaymentStatus:  {admin: true},
}

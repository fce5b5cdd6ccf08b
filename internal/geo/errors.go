package geo

import "github.com/example/ride-booking/internal/apperr"

var ErrBadCoord = apperr.New(apperr.InvalidArgument, "lat must be within [-90,90] and lon within [-180,180]")

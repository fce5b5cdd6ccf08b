package geo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-booking/internal/apperr"
	"github.com/example/ride-booking/internal/models"
)

// RedisGeo implements Locator using Redis GEO commands. The last ping time
// is kept in a side hash so stale pings do not overwrite newer ones.
type RedisGeo struct {
	client redis.Cmdable
	key    string
}

func NewRedisGeo(client redis.Cmdable, key string) *RedisGeo {
	return &RedisGeo{client: client, key: key}
}

func (r *RedisGeo) Tag(ctx context.Context, loc models.DriverLocation) error {
	if err := Validate(loc.Loc); err != nil {
		return err
	}
	if prev, err := r.client.HGet(ctx, metaKey(loc.ID), "updated").Result(); err == nil {
		if t, perr := time.Parse(time.RFC3339Nano, prev); perr == nil && t.After(loc.Updated) {
			return nil
		}
	}
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: loc.Loc.Lon, Latitude: loc.Loc.Lat, Name: loc.ID}).Err(); err != nil {
		return apperr.Wrap(apperr.Unavailable, err, "location index unavailable")
	}
	if err := r.client.HSet(ctx, metaKey(loc.ID), "updated", loc.Updated.UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return apperr.Wrap(apperr.Unavailable, err, "location index unavailable")
	}
	return nil
}

func (r *RedisGeo) Locate(ctx context.Context, driverID string) (models.Coord, bool, error) {
	res, err := r.client.GeoPos(ctx, r.key, driverID).Result()
	if err != nil {
		return models.Coord{}, false, apperr.Wrap(apperr.Unavailable, err, "location index unavailable")
	}
	if len(res) == 0 || res[0] == nil {
		return models.Coord{}, false, nil
	}
	return models.Coord{Lat: res[0].Latitude, Lon: res[0].Longitude}, true, nil
}

func metaKey(id string) string { return "driver:meta:" + id }

package locations

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// Store mirrors the latest reported position of every driver into Redis
// GEO structures. The consumer writes it from the location topic; the
// dispatch process reads it to show drivers near a pickup.
type Store struct {
	client *redis.Client
	key    string
}

func NewStore(addr, password, key string) *Store {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &Store{client: c, key: key}
}

// Upsert records a driver position together with presence metadata.
func (s *Store) Upsert(ctx context.Context, loc models.DriverLocation) error {
	if err := s.client.GeoAdd(ctx, s.key, &redis.GeoLocation{Longitude: loc.Lon, Latitude: loc.Lat, Name: loc.DriverID}).Err(); err != nil {
		return err
	}
	return s.client.HSet(ctx, metaKey(loc.DriverID), map[string]interface{}{
		"online":  strconv.FormatBool(loc.Online),
		"updated": loc.Updated.Format(time.RFC3339),
	}).Err()
}

// Nearby returns up to limit driver positions within radiusMeters of the
// given point, closest first.
func (s *Store) Nearby(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]models.DriverLocation, error) {
	res, err := s.client.GeoRadius(ctx, s.key, lon, lat, &redis.GeoRadiusQuery{
		Radius: radiusMeters, Unit: "m", WithCoord: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.DriverLocation, 0, len(res))
	for _, g := range res {
		loc := models.DriverLocation{DriverID: g.Name, Lat: g.Latitude, Lon: g.Longitude}
		if m, err := s.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			loc.Online = m["online"] == "true"
			if t, err := time.Parse(time.RFC3339, m["updated"]); err == nil {
				loc.Updated = t
			}
		}
		out = append(out, loc)
	}
	return out, nil
}

// Ping reports Redis connectivity for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error { return s.client.Close() }

func metaKey(id string) string { return "driver:loc:" + id }

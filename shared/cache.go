package shared

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"panic-button/sos"

	"github.com/go-redis/redis"
	"github.com/sirupsen/logrus"
)

// FixStore keeps the last known position of a user.
type FixStore interface {
	SaveFix(userID string, fix sos.Fix, ttl time.Duration) error
	LastFix(userID string) (sos.Fix, bool, error)
}

// Cache stores the last location fix in Redis so it survives restarts.
type Cache struct {
	client   *redis.Client
	endpoint string
	logger   logrus.FieldLogger
}

// Connect establishes a new connection with the cache server.
func (cache *Cache) Connect() error {
	cache.client = redis.NewClient(&redis.Options{
		Addr:     cache.endpoint,
		Password: "", // No password.
		DB:       0,  // Default database.
	})

	err := cache.client.Ping().Err()
	cache.handleConnectionError(err)

	return err
}

// CloseConnection gracefully closes the connection to the cache.
func (cache *Cache) CloseConnection() {
	if cache.client != nil {
		cache.client.Close()
	}
}

// SaveFix remembers the fix for the given time.
func (cache *Cache) SaveFix(userID string, fix sos.Fix, ttl time.Duration) error {
	fields := map[string]interface{}{
		"lat":       strconv.FormatFloat(fix.Latitude, 'f', -1, 64),
		"lon":       strconv.FormatFloat(fix.Longitude, 'f', -1, 64),
		"accuracy":  strconv.FormatFloat(fix.Accuracy, 'f', -1, 64),
		"timestamp": strconv.FormatInt(fix.Timestamp.UnixNano(), 10),
	}

	key := fixKey(userID)
	err := cache.client.HMSet(key, fields).Err()
	cache.handleSaveFixError(err)

	if err != nil {
		return err
	}

	if ttl > 0 {
		err = cache.client.Expire(key, ttl).Err()
		cache.handleSaveFixError(err)
	}

	return err
}

// LastFix returns the cached fix of the user, if any.
func (cache *Cache) LastFix(userID string) (sos.Fix, bool, error) {
	fields, err := cache.client.HGetAll(fixKey(userID)).Result()
	cache.handleLastFixError(err)

	if err != nil {
		return sos.Fix{}, false, err
	}

	if len(fields) == 0 {
		return sos.Fix{}, false, nil
	}

	fix, err := parseFix(fields)
	cache.handleLastFixError(err)

	if err != nil {
		return sos.Fix{}, false, err
	}

	return fix, true, nil
}

// NewCache creates a new cache client.
func NewCache(endpoint string, logger logrus.FieldLogger) *Cache {
	return &Cache{
		endpoint: endpoint,
		logger:   logger,
	}
}

func fixKey(userID string) string {
	return "sos:fix:" + userID
}

func parseFix(fields map[string]string) (sos.Fix, error) {
	var fix sos.Fix

	values := make(map[string]float64, 3)

	for _, name := range []string{"lat", "lon", "accuracy"} {
		raw, ok := fields[name]

		if !ok {
			return sos.Fix{}, fmt.Errorf("field '%s' is missing in the cache", name)
		}

		value, err := strconv.ParseFloat(raw, 64)

		if err != nil {
			return sos.Fix{}, fmt.Errorf("field '%s' is incorrect: %w", name, err)
		}

		values[name] = value
	}

	nanos, err := strconv.ParseInt(fields["timestamp"], 10, 64)

	if err != nil {
		return sos.Fix{}, fmt.Errorf("field 'timestamp' is incorrect: %w", err)
	}

	fix.Latitude = values["lat"]
	fix.Longitude = values["lon"]
	fix.Accuracy = values["accuracy"]
	fix.Timestamp = time.Unix(0, nanos).UTC()

	return fix, nil
}

func (cache *Cache) handleConnectionError(err error) {
	if err != nil {
		cache.logger.WithError(err).Error("Couldn't connect to the cache server")
	}
}

func (cache *Cache) handleSaveFixError(err error) {
	if err != nil {
		cache.logger.WithError(err).Warn("Couldn't save the location fix in the cache")
	}
}

func (cache *Cache) handleLastFixError(err error) {
	if err != nil {
		cache.logger.WithError(err).Warn("Couldn't read the location fix from the cache")
	}
}

// CachedLocation serves a recent enough cached fix instead of asking the sensor.
type CachedLocation struct {
	store  FixStore
	source sos.LocationProvider
	userID string
	now    func() time.Time
}

// CurrentPosition returns the cached fix if it is within the request's maximum age.
// Otherwise it reads the source and caches the result.
func (location *CachedLocation) CurrentPosition(ctx context.Context, request sos.LocationRequest) (sos.Fix, error) {
	now := location.now()

	if request.MaximumAge > 0 {
		fix, ok, err := location.store.LastFix(location.userID)

		if err == nil && ok && !fix.Timestamp.After(now) && now.Sub(fix.Timestamp) <= request.MaximumAge {
			return fix, nil
		}
	}

	fix, err := location.source.CurrentPosition(ctx, request)

	if err != nil {
		return sos.Fix{}, err
	}

	if fix.Timestamp.IsZero() {
		fix.Timestamp = now
	}

	// A failed write only costs the next read.
	location.store.SaveFix(location.userID, fix, request.MaximumAge)

	return fix, nil
}

// NewCachedLocation wraps the source with the fix store.
func NewCachedLocation(store FixStore, source sos.LocationProvider, userID string) *CachedLocation {
	return &CachedLocation{
		store:  store,
		source: source,
		userID: userID,
		now:    time.Now,
	}
}

package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// ConnPrefix is the Redis key prefix for all connection hashes.
	ConnPrefix = "conn:"

	// ConnTTL is the time-to-live for connection keys in Redis. Records of
	// connections that died without cleanup age out on their own.
	ConnTTL = 1 * time.Hour
)

// Record is the per-connection state mirrored into Redis.
type Record struct {
	ID        string `redis:"id"`
	UserID    string `redis:"user_id"` // empty until register-user arrives
	Server    string `redis:"server"`  // which relay instance owns the connection
	CreatedAt int64  `redis:"created_at"`
	LastSeen  int64  `redis:"last_seen"`
}

// Store mirrors live connection state into Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this relay instance
}

// NewStore creates a connection mirror store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Create records a freshly upgraded connection with a 1h TTL.
func (s *Store) Create(ctx context.Context, connID string) error {
	key := ConnPrefix + connID
	now := time.Now().Unix()

	record := map[string]interface{}{
		"id":         connID,
		"user_id":    "",
		"server":     s.serverName,
		"created_at": now,
		"last_seen":  now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, record)
	pipe.Expire(ctx, key, ConnTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a connection record. Returns nil if not found.
func (s *Store) Get(ctx context.Context, connID string) (*Record, error) {
	key := ConnPrefix + connID
	var record Record
	err := s.client.HGetAll(ctx, key).Scan(&record)
	if err != nil {
		return nil, err
	}
	if record.ID == "" {
		return nil, nil // not found
	}
	return &record, nil
}

// SetUser stamps the user identity the connection registered as and
// refreshes the TTL.
func (s *Store) SetUser(ctx context.Context, connID string, userID string) error {
	key := ConnPrefix + connID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "user_id", userID, "last_seen", time.Now().Unix())
	pipe.Expire(ctx, key, ConnTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// RefreshTTL extends the record's TTL on connection activity.
func (s *Store) RefreshTTL(ctx context.Context, connID string) error {
	key := ConnPrefix + connID
	return s.client.Expire(ctx, key, ConnTTL).Err()
}

// Delete removes a connection record on disconnect.
func (s *Store) Delete(ctx context.Context, connID string) error {
	key := ConnPrefix + connID
	return s.client.Del(ctx, key).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}

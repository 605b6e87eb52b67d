package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/roomchat/internal/auth"
)

const (
	// SessionPrefix is the Redis key prefix for all session hashes.
	SessionPrefix = "session:"

	// SessionTTL is the time-to-live for session keys in Redis. Keys are
	// refreshed on every write, so only sessions of a crashed process expire.
	SessionTTL = 1 * time.Hour
)

// Session is the Redis view of one live connection.
type Session struct {
	ID         string `redis:"id"`
	UserID     string `redis:"user_id"`
	Username   string `redis:"username"`
	State      string `redis:"state"`
	Rooms      string `redis:"rooms"`  // comma-separated
	Server     string `redis:"server"` // which chat server instance owns it
	CreatedAt  int64  `redis:"created_at"`
	LastActive int64  `redis:"last_active"`
}

// RoomList splits the stored room list.
func (s *Session) RoomList() []string {
	if s.Rooms == "" {
		return nil
	}
	return strings.Split(s.Rooms, ",")
}

// Store mirrors session state into Redis.
type Store struct {
	client     *redis.Client
	serverName string
}

// NewStore creates a new session store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// NewStoreWithClient wraps an existing Redis client.
func NewStoreWithClient(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

// Create records a freshly authenticated connection.
func (s *Store) Create(ctx context.Context, connID string, id auth.Identity) error {
	key := SessionPrefix + connID
	now := time.Now().Unix()

	fields := map[string]interface{}{
		"id":          connID,
		"user_id":     id.ID,
		"username":    id.Username,
		"state":       Authenticated.String(),
		"rooms":       "",
		"server":      s.serverName,
		"created_at":  now,
		"last_active": now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, SessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: create %s: %w", connID, err)
	}
	return nil
}

// Get retrieves a session from Redis. Returns nil if not found.
func (s *Store) Get(ctx context.Context, connID string) (*Session, error) {
	var sess Session
	if err := s.client.HGetAll(ctx, SessionPrefix+connID).Scan(&sess); err != nil {
		return nil, fmt.Errorf("session: get %s: %w", connID, err)
	}
	if sess.ID == "" {
		return nil, nil
	}
	return &sess, nil
}

// SetRooms stores the connection's current rooms and state, refreshing the TTL.
func (s *Store) SetRooms(ctx context.Context, connID string, state State, rooms []string) error {
	key := SessionPrefix + connID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key,
		"state", state.String(),
		"rooms", strings.Join(rooms, ","),
		"last_active", time.Now().Unix(),
	)
	pipe.Expire(ctx, key, SessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: set rooms %s: %w", connID, err)
	}
	return nil
}

// Delete removes a session from Redis.
func (s *Store) Delete(ctx context.Context, connID string) error {
	return s.client.Del(ctx, SessionPrefix+connID).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client so the rate limiter can share it.
func (s *Store) Client() *redis.Client {
	return s.client
}

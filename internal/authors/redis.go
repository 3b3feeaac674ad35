package authors

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bryan-buckman/feedwindow/internal/model"
)

// Hash fields of an author record.
const (
	fieldDisplayName = "display_name"
	fieldAvatarURL   = "avatar_url"
)

// RedisDirectory reads author records stored as hashes at author:<id>.
type RedisDirectory struct {
	client redis.Cmdable
	prefix string
}

// NewRedisDirectory creates a directory over a Redis client.
func NewRedisDirectory(client redis.Cmdable) *RedisDirectory {
	return &RedisDirectory{client: client, prefix: "author:"}
}

// Key returns the hash key for ownerID.
func (d *RedisDirectory) Key(ownerID string) string {
	return d.prefix + ownerID
}

// Fetch implements Directory.
func (d *RedisDirectory) Fetch(ctx context.Context, ownerID string) (model.AuthorSnapshot, error) {
	fields, err := d.client.HGetAll(ctx, d.Key(ownerID)).Result()
	if err != nil {
		return model.AuthorSnapshot{}, fmt.Errorf("redis hgetall: %w", err)
	}
	return snapshotFromHash(ownerID, fields)
}

// Put writes an author record.
func (d *RedisDirectory) Put(ctx context.Context, ownerID string, snap model.AuthorSnapshot) error {
	return d.client.HSet(ctx, d.Key(ownerID),
		fieldDisplayName, snap.DisplayName,
		fieldAvatarURL, snap.AvatarURL,
	).Err()
}

func snapshotFromHash(ownerID string, fields map[string]string) (model.AuthorSnapshot, error) {
	// HGETALL on a missing key returns an empty map rather than redis.Nil.
	name, ok := fields[fieldDisplayName]
	if !ok || name == "" {
		return model.AuthorSnapshot{}, fmt.Errorf("author %s: %w", ownerID, model.ErrNotFound)
	}
	return model.AuthorSnapshot{DisplayName: name, AvatarURL: fields[fieldAvatarURL]}, nil
}

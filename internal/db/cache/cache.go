// Package cache keeps recently used UserState records in a bounded LRU in
// front of the durable client. Entries are stored and handed out as clones,
// so a caller mutating its copy never leaks into the cache before UpsertUser
// succeeds.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/iamwavecut/modbot/internal/db"
)

type Client struct {
	db.Client
	users *expirable.LRU[int64, *db.UserState]
}

var _ db.Client = (*Client)(nil)

func New(backend db.Client, capacity int, ttl time.Duration) *Client {
	return &Client{
		Client: backend,
		users:  expirable.NewLRU[int64, *db.UserState](capacity, nil, ttl),
	}
}

func (c *Client) GetUser(ctx context.Context, userID int64) (*db.UserState, error) {
	if user, ok := c.users.Get(userID); ok {
		return user.Clone(), nil
	}
	user, err := c.Client.GetUser(ctx, userID)
	if err != nil || user == nil {
		return user, err
	}
	c.users.Add(userID, user.Clone())
	return user, nil
}

func (c *Client) UpsertUser(ctx context.Context, user *db.UserState) error {
	if err := c.Client.UpsertUser(ctx, user); err != nil {
		c.users.Remove(user.ID)
		return err
	}
	c.users.Add(user.ID, user.Clone())
	return nil
}

func (c *Client) Evict(userID int64) {
	c.users.Remove(userID)
}

func (c *Client) Len() int {
	return c.users.Len()
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/biller/pkg/billing"
)

const customerKeyPrefix = "biller:customer:"

// CustomerCache is a read-through customer cache: an in-process LRU (L1) in
// front of Redis (L2) in front of the database. Cache failures degrade to a
// database read.
type CustomerCache struct {
	next   billing.CustomerStore
	l1     *expirable.LRU[int64, billing.Customer]
	redis  *redis.Client
	ttl    time.Duration
	logger logrus.FieldLogger
}

// NewCustomerCache wraps next. client may be nil to skip the Redis level.
func NewCustomerCache(next billing.CustomerStore, client *redis.Client, size int, ttl time.Duration, logger logrus.FieldLogger) *CustomerCache {
	if size <= 0 {
		size = 1000
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &CustomerCache{
		next:   next,
		l1:     expirable.NewLRU[int64, billing.Customer](size, nil, ttl),
		redis:  client,
		ttl:    ttl,
		logger: logger,
	}
}

// Fetch implements billing.CustomerStore
func (c *CustomerCache) Fetch(ctx context.Context, id int64) (billing.Customer, error) {
	if customer, ok := c.l1.Get(id); ok {
		return customer, nil
	}

	if customer, ok := c.getRedis(ctx, id); ok {
		c.l1.Add(id, customer)
		return customer, nil
	}

	customer, err := c.next.Fetch(ctx, id)
	if err != nil {
		return billing.Customer{}, err
	}

	c.l1.Add(id, customer)
	c.setRedis(ctx, customer)
	return customer, nil
}

// FetchAll implements billing.CustomerStore. Listings are not cached.
func (c *CustomerCache) FetchAll(ctx context.Context) ([]billing.Customer, error) {
	return c.next.FetchAll(ctx)
}

// Invalidate drops a customer from both cache levels
func (c *CustomerCache) Invalidate(ctx context.Context, id int64) {
	c.l1.Remove(id)
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, customerKey(id)).Err(); err != nil {
		c.logger.WithError(err).WithField("customer_id", id).Warn("Failed to invalidate cached customer")
	}
}

// Len returns the number of customers held in the L1 cache
func (c *CustomerCache) Len() int {
	return c.l1.Len()
}

func (c *CustomerCache) getRedis(ctx context.Context, id int64) (billing.Customer, bool) {
	if c.redis == nil {
		return billing.Customer{}, false
	}

	key := customerKey(id)
	data, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return billing.Customer{}, false
	}
	if err != nil {
		c.logger.WithError(err).WithField("customer_id", id).Warn("Redis get failed, falling back to database")
		return billing.Customer{}, false
	}

	var customer billing.Customer
	if err := json.Unmarshal(data, &customer); err != nil {
		// corrupt entry
		c.redis.Del(ctx, key)
		return billing.Customer{}, false
	}
	return customer, true
}

func (c *CustomerCache) setRedis(ctx context.Context, customer billing.Customer) {
	if c.redis == nil {
		return
	}

	data, err := json.Marshal(customer)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, customerKey(customer.ID), data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("customer_id", customer.ID).Warn("Redis set failed")
	}
}

func customerKey(id int64) string {
	return fmt.Sprintf("%s%d", customerKeyPrefix, id)
}

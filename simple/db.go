// Package simple wraps the entitygraph Core API in a generic,
// reflection-driven Collection[T], playing the role of the
// "equivalent manual boilerplate" a compile-time schema generator
// would otherwise emit: struct tags declare a type's key field and its
// family relations, and Collection does the rest.
package simple

import (
	"context"
	"fmt"
	"os"

	"github.com/nkoval/entitygraph"
	"github.com/redis/go-redis/v9"
)

// DB is the simple API entry point, wrapping entitygraph.Db with
// environment-driven defaults.
//
// Example:
//
//	db, err := simple.Connect()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
type DB struct {
	core        *entitygraph.Db
	redisClient *redis.Client
	lock        *entitygraph.DistributedLock
}

// Option is a functional option for configuring DB.
type Option func(*DB) error

// Connect opens a DB with auto-detected configuration.
//
// Environment variables:
//   - ENTITYGRAPH_PATH: database file path (default: "./data/entitygraph.db")
//   - REDIS_ADDR: Redis address enabling distributed locking (default: "localhost:6379")
func Connect(opts ...Option) (*DB, error) {
	db := &DB{}

	// Redis is optional; set it up first so its lock can be wired into
	// Open via WithDistributedLock.
	if err := db.setupRedis(); err != nil {
		// Distributed locking disabled; single-process use still works.
	}

	path := os.Getenv("ENTITYGRAPH_PATH")
	if path == "" {
		path = "./data/entitygraph.db"
	}

	var engineOpts []entitygraph.Option
	if db.lock != nil {
		engineOpts = append(engineOpts, entitygraph.WithDistributedLock(db.lock))
	}
	core, err := entitygraph.Open(path, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("open entitygraph: %w", err)
	}
	db.core = core

	for _, opt := range opts {
		if err := opt(db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

// MustConnect is like Connect but panics on error. Use for demos and
// prototypes, where startup failure should crash the process.
func MustConnect(opts ...Option) *DB {
	db, err := Connect(opts...)
	if err != nil {
		panic(fmt.Sprintf("simple.MustConnect failed: %v", err))
	}
	return db
}

// Close releases the underlying database and Redis client.
func (db *DB) Close() error {
	var errs []error
	if db.core != nil {
		if err := db.core.Close(); err != nil {
			errs = append(errs, fmt.Errorf("core close: %w", err))
		}
	}
	if db.redisClient != nil {
		if err := db.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// Core returns the underlying entitygraph.Db, for dropping down to the
// Core API (Query, Plan/Apply, Doctor) when a Collection isn't enough.
func (db *DB) Core() *entitygraph.Db {
	return db.core
}

// Lock returns the distributed lock manager, nil if Redis wasn't
// available at Connect time.
func (db *DB) Lock() *entitygraph.DistributedLock {
	return db.lock
}

func (db *DB) setupRedis() error {
	ctx := context.Background()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	db.redisClient = redis.NewClient(&redis.Options{Addr: addr})
	if err := db.redisClient.Ping(ctx).Err(); err != nil {
		db.redisClient = nil
		return fmt.Errorf("redis not available: %w", err)
	}
	db.lock = entitygraph.NewDistributedLock(db.redisClient, "entitygraph-simple")
	return nil
}

// WithRedis sets a custom Redis client, enabling distributed locking
// for Collection.Atomic.
func WithRedis(client *redis.Client) Option {
	return func(db *DB) error {
		db.redisClient = client
		db.lock = entitygraph.NewDistributedLock(client, "entitygraph-simple")
		return nil
	}
}

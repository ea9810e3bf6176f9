// Package presets wires a lock Manager with its store and bus for the
// common deployments.
package presets

import (
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-warplock/v1/lock"
	"github.com/mirkobrombin/go-warplock/v1/syncbus"
)

const (
	busFailureThreshold = 3
	busCooldown         = 10 * time.Second
)

// RedisOptions configures the connection to Redis. URL, when set, takes
// precedence over Addr, Password and DB.
type RedisOptions struct {
	URL       string
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// DisableBus turns off unlock notifications; waiters only poll.
	DisableBus bool
}

// NewRedis creates a Manager using Redis both as the lock store and, unless
// disabled, as the unlock notification bus. The returned func closes the
// bus and the client.
func NewRedis(opts RedisOptions, extra ...lock.ManagerOption) (*lock.Manager, func() error, error) {
	ropts := &redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
	if opts.URL != "" {
		parsed, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, nil, err
		}
		ropts = parsed
	}
	client := redis.NewClient(ropts)

	store := lock.NewRedisStore(client, lock.WithKeyPrefix(opts.KeyPrefix))
	mopts := make([]lock.ManagerOption, 0, len(extra)+1)

	var bus *syncbus.RedisBus
	if !opts.DisableBus {
		bus = syncbus.NewRedisBus(client, syncbus.WithChannelPrefix(opts.KeyPrefix+"warplock:"))
		mopts = append(mopts, lock.WithBus(syncbus.NewCircuitBreaker(bus, busFailureThreshold, busCooldown)))
	}
	mopts = append(mopts, extra...)

	closeFn := func() error {
		var errs []error
		if bus != nil {
			errs = append(errs, bus.Close())
		}
		errs = append(errs, client.Close())
		return errors.Join(errs...)
	}
	return lock.NewManager(store, mopts...), closeFn, nil
}

// NewInMemoryStandalone creates a Manager that runs entirely in memory with
// no external dependencies. Locks only exclude goroutines of this process.
func NewInMemoryStandalone(extra ...lock.ManagerOption) *lock.Manager {
	opts := append([]lock.ManagerOption{lock.WithBus(syncbus.NewInMemoryBus())}, extra...)
	return lock.NewManager(lock.NewInMemoryStore(), opts...)
}

package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mirkobrombin/go-warplock/v1/lock"
)

// Wrap is the number of characters to wrap flag help text at.
const Wrap = 50

type config struct {
	Backend     string
	RedisURL    string
	KeyPrefix   string
	Bus         string
	NATSURL     string
	Namespace   string
	MetricsAddr string
	Trace       bool
	LogLevel    slog.Level

	TTL            time.Duration
	AcquireTimeout time.Duration
	RetryInterval  time.Duration
	RenewInterval  time.Duration
	AutoRenew      bool
}

func wrapString(text string) string {
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > Wrap {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteString(" ")
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

func registerFlags(fs *pflag.FlagSet) {
	fs.String("backend", "redis", wrapString("lock store to use (redis, memory)"))
	fs.String("redis-url", "redis://localhost:6379/0", wrapString("Redis connection URL"))
	fs.String("key-prefix", "", wrapString("prefix applied to every Redis key and channel"))
	fs.String("bus", "redis", wrapString("unlock notification bus (redis, nats, none)"))
	fs.String("nats-url", "nats://localhost:4222", wrapString("NATS server URL, used with --bus nats"))
	fs.String("namespace", lock.DefaultNamespace, wrapString("prefix prepended to lock names"))
	fs.String("metrics-addr", "", wrapString("serve Prometheus metrics on this address, e.g. :2112"))
	fs.Bool("trace", false, wrapString("print OpenTelemetry spans to stderr"))
	fs.String("log-level", "info", wrapString("log level (debug, info, warn, error)"))

	fs.Duration("ttl", lock.DefaultTTL, wrapString("lease duration of an acquired lock"))
	fs.Duration("acquire-timeout", lock.DefaultAcquireTimeout, wrapString("how long to wait for a busy lock, 0 for a single attempt"))
	fs.Duration("retry-interval", lock.DefaultRetryInterval, wrapString("pause between acquire attempts"))
	fs.Duration("renew-interval", 0, wrapString("lease renewal period, 0 for ttl/2"))
	fs.Bool("auto-renew", true, wrapString("renew the lease in the background while held"))
}

// initConfig loads .env files and maps WARPLOCK_* variables onto flags.
func initConfig(v *viper.Viper) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v.SetEnvPrefix("warplock")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

func loadConfig(v *viper.Viper) (config, error) {
	cfg := config{
		Backend:        v.GetString("backend"),
		RedisURL:       v.GetString("redis-url"),
		KeyPrefix:      v.GetString("key-prefix"),
		Bus:            v.GetString("bus"),
		NATSURL:        v.GetString("nats-url"),
		Namespace:      v.GetString("namespace"),
		MetricsAddr:    v.GetString("metrics-addr"),
		Trace:          v.GetBool("trace"),
		TTL:            v.GetDuration("ttl"),
		AcquireTimeout: v.GetDuration("acquire-timeout"),
		RetryInterval:  v.GetDuration("retry-interval"),
		RenewInterval:  v.GetDuration("renew-interval"),
		AutoRenew:      v.GetBool("auto-renew"),
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		return config{}, fmt.Errorf("invalid log level: %w", err)
	}
	switch cfg.Backend {
	case "redis", "memory":
	default:
		return config{}, fmt.Errorf("invalid backend %s", cfg.Backend)
	}
	switch cfg.Bus {
	case "redis", "nats", "none":
	default:
		return config{}, fmt.Errorf("invalid bus %s", cfg.Bus)
	}
	return cfg, nil
}

func (c config) lockOptions() []lock.Option {
	return []lock.Option{
		lock.WithTTL(c.TTL),
		lock.WithAcquireTimeout(c.AcquireTimeout),
		lock.WithRetryInterval(c.RetryInterval),
		lock.WithRenewInterval(c.RenewInterval),
		lock.WithAutoRenew(c.AutoRenew),
	}
}

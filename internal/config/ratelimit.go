package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// RateLimitConfig sizes the Redis token buckets.  The general bucket guards
// every mutating route per ip, session and route; the write bucket is one
// budget per session shared by creating and removing bookings.
type RateLimitConfig struct {
	Enabled        bool          `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	Capacity       int           `envconfig:"RATE_LIMIT_CAPACITY" default:"30"`
	RefillTokens   int           `envconfig:"RATE_LIMIT_REFILL_TOKENS" default:"1"`
	RefillInterval time.Duration `envconfig:"RATE_LIMIT_REFILL_INTERVAL" default:"1s"`
	TTL            time.Duration `envconfig:"RATE_LIMIT_TTL" default:"10m"`
	KeyStrategy    string        `envconfig:"RATE_LIMIT_KEY_STRATEGY" default:"ip_session_route"`
	Prefix         string        `envconfig:"RATE_LIMIT_PREFIX" default:"rl"`
	Debug          bool          `envconfig:"RATE_LIMIT_DEBUG" default:"false"`
	Burst          int           `envconfig:"RATE_LIMIT_BURST" default:"-1"`
	RefillEvery    time.Duration `envconfig:"RATE_LIMIT_REFILL_EVERY" default:"0"`

	WriteCapacity       int           `envconfig:"RATE_LIMIT_WRITE_CAPACITY" default:"10"`
	WriteRefillInterval time.Duration `envconfig:"RATE_LIMIT_WRITE_REFILL_INTERVAL" default:"6s"`
}

func LoadRateLimitConfig() RateLimitConfig {
	var def RateLimitConfig
	if err := envconfig.Process("", &def); err != nil {
		def = RateLimitConfig{Enabled: true, Capacity: 30, RefillTokens: 1, RefillInterval: time.Second,
			TTL: 10 * time.Minute, KeyStrategy: "ip_session_route", Prefix: "rl",
			WriteCapacity: 10, WriteRefillInterval: 6 * time.Second}
	}
	return def.normalize()
}

// Writes derives the per-session write budget: WriteCapacity tokens, one
// regained every WriteRefillInterval, under its own key prefix.
func (def RateLimitConfig) Writes() RateLimitConfig {
	w := def
	w.Capacity = def.WriteCapacity
	w.RefillTokens = 1
	w.RefillInterval = def.WriteRefillInterval
	w.KeyStrategy = "session"
	w.Prefix = def.Prefix + ":writes"
	w.Burst = -1
	w.RefillEvery = 0
	if w.RefillInterval <= 0 {
		w.RefillInterval = 6 * time.Second
	}
	return w.normalize()
}

func (def RateLimitConfig) normalize() RateLimitConfig {
	if def.Burst > 0 {
		def.Capacity = def.Burst
	}
	if def.RefillEvery > 0 {
		def.RefillTokens = 1
		def.RefillInterval = def.RefillEvery
	}
	if def.Capacity < 1 {
		def.Capacity = 1
	}
	if def.RefillTokens < 1 {
		def.RefillTokens = 1
	}
	if def.RefillInterval <= 0 {
		def.RefillInterval = time.Second
	}
	minTTL := 5 * def.RefillInterval
	if def.TTL < minTTL {
		def.TTL = minTTL
	}
	return def
}

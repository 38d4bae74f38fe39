package redis

import "time"

// Options controls how the Redis repository connects to the server.
type Options struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	// KeyPrefix namespaces every key this repository writes. Entry hashes
	// live under "<prefix>e:", tag index sets under "<prefix>t:".
	KeyPrefix string
	// ScanCount sizes SCAN batches during enumeration.
	ScanCount int
}

func (o Options) withDefaults() Options {
	if o.Addr == "" {
		o.Addr = "127.0.0.1:6379"
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 2 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 2 * time.Second
	}
	if o.DB < 0 {
		o.DB = 0
	}
	if o.PoolSize <= 0 {
		o.PoolSize = 8
	}
	if o.KeyPrefix == "" {
		o.KeyPrefix = "cachekit:"
	}
	if o.ScanCount <= 0 {
		o.ScanCount = 256
	}
	return o
}

// Package config loads the daemon configuration.
//
// Values come from defaults, then the YAML file, then command line flags.
package config

import "time"

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultDriver is the storage backend.
	// Override via config: storage.driver
	DefaultDriver = DriverBolt

	// DefaultDBFile is the database file name inside the data directory.
	// Override via config: storage.path
	DefaultDBFile = "gophsync.db"

	// DefaultAliasCacheSize is the number of cached alias targets.
	// Override via config: versions.alias_cache_size
	DefaultAliasCacheSize = 1024
)

// =============================================================================
// Network Defaults
// =============================================================================

const (
	// DefaultListenAddress is the peer endpoint address.
	// Override via config: peer.listen
	DefaultListenAddress = "127.0.0.1:7070"

	// DefaultBroadcastTimeout bounds one update broadcast to all peers.
	// Override via config: peer.broadcast_timeout
	DefaultBroadcastTimeout = 30 * time.Second

	// DefaultRateLimit is the number of peer requests per window and address.
	// Override via config: peer.rate_limit
	DefaultRateLimit = 600

	// DefaultRateWindow is the rate limit window.
	// Override via config: peer.rate_window
	DefaultRateWindow = time.Minute
)

// =============================================================================
// Engine Defaults
// =============================================================================

const (
	// DefaultPublishDelay is the debounce window of update broadcasts.
	// Override via config: engine.publish_delay
	DefaultPublishDelay = 500 * time.Millisecond

	// DefaultScanInterval is the delay of the write coalescer scan.
	// Override via config: engine.scan_interval
	DefaultScanInterval = 30 * time.Second

	// DefaultHashDelay is how long a key must stay unwritten after publishing
	// before its master content is hashed.
	// Override via config: engine.hash_delay
	DefaultHashDelay = 5 * time.Second

	// DefaultHashAlgorithm is the block digest algorithm.
	// Override via config: hash.algorithm
	DefaultHashAlgorithm = "sha256"

	// DefaultHashBlockSize is the digest block size.
	// Override via config: hash.block_size
	DefaultHashBlockSize = 4 << 20

	// DefaultHashTokens is the number of concurrent hash computations.
	// Override via config: tokens.hash
	DefaultHashTokens = 2

	// DefaultHousekeepingTokens is the housekeeping budget.
	// Override via config: tokens.housekeeping
	DefaultHousekeepingTokens = 1

	// DefaultNetworkTokens is the number of concurrently handled peer notifications.
	// Override via config: tokens.network
	DefaultNetworkTokens = 8
)

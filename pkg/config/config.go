package config

import "time"

// Server defaults
const (
	DefaultAddr         = ":8080"
	DefaultMaxStorageGB = 1
	DefaultMaxMemoryMB  = 48
)

// Storage layout
const (
	DefaultDataDir       = "./data/auviewer/sources"
	DefaultProcessedDir  = "./data/auviewer/processed"
	ProcessedSuffix      = ".auv"
	PartialSuffix        = ".partial"
	DefaultCompression   = 2
	DefaultCacheEntries  = 256
	DefaultChunkRows     = 8192
	BadgerGCDiscardRatio = 0.5
)

// Downsampling defaults
const (
	// DefaultIntervalCount is M, the number of intervals on the coarsest level
	// and the number of intervals a client is expected to render at once.
	DefaultIntervalCount  = 3000
	DefaultStepMultiplier = 4
	// DefaultRawFallbackRatio is how much wider than requested the finest level's
	// intervals may be before raw data is served instead.
	DefaultRawFallbackRatio = 2.0
	DefaultMaxRawPoints     = 50_000_000
)

// Processing defaults
const (
	DefaultWorkers      = 4
	DefaultScanInterval = 5 * time.Minute
	DefaultMaxRetries   = 3
	ProcessingTimeout   = 30 * time.Minute
)

// Query timeouts
const (
	QueryTimeout  = 30 * time.Second
	DetectTimeout = 2 * time.Minute
	ListTimeout   = 5 * time.Second
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)

// Package config defines a session's creation parameters and validates
// them before a Supervisor ever constructs a session.
package config

import (
	"time"

	"github.com/seedbox-tools/ratiofaker/internal/fingerprint"
	"github.com/seedbox-tools/ratiofaker/internal/ratemodel"
)

// StopThresholds bundles every stop predicate's threshold. A zero/false
// Enabled flag disables that predicate regardless of its threshold.
type StopThresholds struct {
	StopAtRatioEnabled bool
	StopAtRatio        float64

	StopAtUploadedBytesEnabled bool
	StopAtUploadedBytes        uint64

	StopAtDownloadedBytesEnabled bool
	StopAtDownloadedBytes        uint64

	StopAtSeedTimeSecsEnabled bool
	StopAtSeedTimeSecs        uint64

	StopWhenNoLeechers bool
}

// Config bundles everything needed to construct one session.
type Config struct {
	ClientVariant fingerprint.Variant
	ClientVersion string // empty uses the variant's default

	Port    uint16
	NumWant int // 0 uses the fingerprint's default

	RateModel ratemodel.Model
	Stop      StopThresholds

	// UpdateInterval is how often the supervisor's driver ticks this
	// session.
	UpdateInterval time.Duration

	// InitialUploaded/InitialDownloaded seed the cumulative counters for
	// a brand new session (ignored on cumulative-counter-inheriting
	// resume).
	InitialUploadedBytes   uint64
	InitialDownloadedBytes uint64
}

// DefaultUpdateInterval matches the update_interval_seconds default in
// rustatio's InstanceConfig.
const DefaultUpdateInterval = 5 * time.Second

// DefaultAnnounceInterval is used until the tracker's first response
// supplies one.
const DefaultAnnounceInterval = 30 * time.Minute

package config

import (
	"fmt"

	"github.com/seedbox-tools/ratiofaker/internal/faulterr"
)

const (
	minRateKiBps = 0.0
	maxRateKiBps = 1_000_000.0 // generous ceiling; guards against unit-confusion typos

	minPort = 1024 // ports below this are privileged

	minUpdateIntervalSecs = 1
	maxUpdateIntervalSecs = 3600
)

// Validate rejects a Config that would produce nonsensical or unsafe
// session behavior. It never mutates cfg.
func (cfg Config) Validate() error {
	if err := validateRate(cfg.RateModel.BaseUploadRate, "base_upload_rate"); err != nil {
		return err
	}
	if err := validateRate(cfg.RateModel.BaseDownloadRate, "base_download_rate"); err != nil {
		return err
	}
	if cfg.RateModel.Progressive {
		if err := validateRate(cfg.RateModel.TargetUploadRate, "target_upload_rate"); err != nil {
			return err
		}
		if err := validateRate(cfg.RateModel.TargetDownloadRate, "target_download_rate"); err != nil {
			return err
		}
	}
	if cfg.RateModel.Randomize && (cfg.RateModel.JitterRangePercent < 0 || cfg.RateModel.JitterRangePercent > 100) {
		return faulterr.InvalidInput(fmt.Sprintf(
			"jitter_range_percent must be between 0 and 100, got %v", cfg.RateModel.JitterRangePercent))
	}

	if cfg.Port != 0 && cfg.Port < minPort {
		return faulterr.InvalidInput(fmt.Sprintf(
			"port must be >= %d (privileged ports rejected), got %d", minPort, cfg.Port))
	}

	secs := int(cfg.UpdateInterval.Seconds())
	if secs != 0 && (secs < minUpdateIntervalSecs || secs > maxUpdateIntervalSecs) {
		return faulterr.InvalidInput(fmt.Sprintf(
			"update_interval_seconds must be between %d and %d, got %d",
			minUpdateIntervalSecs, maxUpdateIntervalSecs, secs))
	}

	if cfg.Stop.StopAtRatioEnabled && cfg.Stop.StopAtRatio < 0 {
		return faulterr.InvalidInput("stop_at_ratio must not be negative when enabled")
	}

	return nil
}

func validateRate(rate float64, field string) error {
	if rate < minRateKiBps || rate > maxRateKiBps {
		return faulterr.InvalidInput(fmt.Sprintf(
			"%s must be between %v and %v KiB/s, got %v", field, minRateKiBps, maxRateKiBps, rate))
	}
	return nil
}

package app

import (
	"fmt"
	"strings"
	"time"

	"postflow/internal/config"
	"postflow/internal/jobs"
	"postflow/internal/platform"
	"postflow/internal/posts"
	"postflow/internal/storage"
)

func mapPostsConfig(cfg *config.Config) (posts.Config, error) {
	window, err := config.ParseDurationOrDefault("posts.conflict_window", cfg.Posts.ConflictWindow, posts.ConflictWindow)
	if err != nil {
		return posts.Config{}, err
	}

	limits := posts.DefaultDailyLimits()
	for name, n := range cfg.Posts.DailyLimits {
		kind, err := parseKind(name)
		if err != nil {
			return posts.Config{}, fmt.Errorf("posts.daily_limits: %w", err)
		}
		if n < 0 {
			return posts.Config{}, fmt.Errorf("posts.daily_limits.%s must be >= 0", name)
		}
		limits[kind] = n
	}

	return posts.Config{
		ConflictWindow: window,
		DailyLimits:    limits,
	}, nil
}

func mapJobsConfig(cfg *config.Config) (jobs.Config, error) {
	backoff, err := config.ParseDurationOrDefault("jobs.retry_backoff", cfg.Jobs.RetryBackoff, 5*time.Second)
	if err != nil {
		return jobs.Config{}, err
	}

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Jobs.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return jobs.Config{}, fmt.Errorf("jobs.timezone: invalid %q: %w", tz, err)
		}
	}

	return jobs.Config{
		HistorySize:  cfg.Jobs.HistorySize,
		RetryBackoff: backoff,
		Location:     loc,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{}, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func parseKind(name string) (platform.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "facebook":
		return platform.Facebook, nil
	case "instagram":
		return platform.Instagram, nil
	case "twitter":
		return platform.Twitter, nil
	case "whatsapp":
		return platform.WhatsApp, nil
	default:
		return "", fmt.Errorf("unknown platform %q", name)
	}
}

// enabledPlatforms resolves which adapters to register and their pacing.
// An absent platforms section enables all four with default pacing.
func enabledPlatforms(cfg *config.Config) (map[platform.Kind]int, error) {
	out := make(map[platform.Kind]int)
	if len(cfg.Platforms) == 0 {
		for _, k := range []platform.Kind{platform.Facebook, platform.Instagram, platform.Twitter, platform.WhatsApp} {
			out[k] = 0
		}
		return out, nil
	}
	for name, pc := range cfg.Platforms {
		if !pc.Enabled {
			continue
		}
		kind, err := parseKind(name)
		if err != nil {
			return nil, fmt.Errorf("platforms: %w", err)
		}
		if pc.RatePerSec < 0 {
			return nil, fmt.Errorf("platforms.%s.rate_per_sec must be >= 0", name)
		}
		out[kind] = pc.RatePerSec
	}
	return out, nil
}

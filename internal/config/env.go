package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	EnvConsoleAddr     = "ROLLCALL_CONSOLE_ADDR"
	EnvCORSOrigins     = "ROLLCALL_CORS_ORIGINS"
	EnvAttendanceURL   = "ROLLCALL_ATTENDANCE_URL"
	EnvDetectorURL     = "ROLLCALL_DETECTOR_URL"
	EnvUpstreamCAFile  = "ROLLCALL_UPSTREAM_CA_FILE"
	EnvPollInterval    = "ROLLCALL_POLL_INTERVAL"
	EnvStepTimeout     = "ROLLCALL_STEP_TIMEOUT"
	EnvStrictHeadcount = "ROLLCALL_STRICT_HEADCOUNT"
)

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvConsoleAddr); ok {
		cfg.Console.Addr = v
	}
	if v, ok := get(EnvCORSOrigins); ok {
		cfg.Console.CORSOrigins = normalizeList(strings.Split(v, ","))
	}
	if v, ok := get(EnvAttendanceURL); ok {
		cfg.Attendance.BaseURL = v
	}
	if v, ok := get(EnvDetectorURL); ok {
		cfg.Detector.BaseURL = v
	}
	if v, ok := get(EnvUpstreamCAFile); ok {
		cfg.Attendance.CAFile = v
		cfg.Detector.CAFile = v
	}
	if v, ok := get(EnvPollInterval); ok {
		d, err := envDuration(EnvPollInterval, v)
		if err != nil {
			return err
		}
		cfg.Dashboard.Interval = d
	}
	if v, ok := get(EnvStepTimeout); ok {
		d, err := envDuration(EnvStepTimeout, v)
		if err != nil {
			return err
		}
		cfg.Reconcile.StepTimeout = d
	}
	if v, ok := get(EnvStrictHeadcount); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: parse %s: %w", EnvStrictHeadcount, err)
		}
		cfg.Reconcile.StrictHeadcount = b
	}
	return nil
}

func envDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", key, err)
	}
	return d, nil
}

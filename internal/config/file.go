package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// fileConfig is the on-disk shape. Durations are Go duration strings.
type fileConfig struct {
	Console    fileConsole   `toml:"console"`
	Attendance fileUpstream  `toml:"attendance"`
	Detector   fileDetector  `toml:"detector"`
	Dashboard  fileDashboard `toml:"dashboard"`
	Reconcile  fileReconcile `toml:"reconcile"`
}

type fileConsole struct {
	ID          string   `toml:"id"`
	Addr        string   `toml:"addr"`
	CORSOrigins []string `toml:"cors_origins"`
	MaxUploadMB int      `toml:"max_upload_mb"`
}

type fileUpstream struct {
	BaseURL string `toml:"base_url"`
	Timeout string `toml:"timeout"`
	CAFile  string `toml:"ca_file"`
}

type fileDetector struct {
	BaseURL      string `toml:"base_url"`
	Timeout      string `toml:"timeout"`
	CAFile       string `toml:"ca_file"`
	ArtifactPath string `toml:"artifact_path"`
	MaxImageMB   int    `toml:"max_image_mb"`
}

type fileDashboard struct {
	Interval    string `toml:"interval"`
	RecentLimit int    `toml:"recent_limit"`
}

type fileReconcile struct {
	StepTimeout     string `toml:"step_timeout"`
	StrictHeadcount bool   `toml:"strict_headcount"`
	NoticeTTL       string `toml:"notice_ttl"`
}

func toFile(cfg Config) fileConfig {
	return fileConfig{
		Console: fileConsole{
			ID:          cfg.Console.ID,
			Addr:        cfg.Console.Addr,
			CORSOrigins: cfg.Console.CORSOrigins,
			MaxUploadMB: cfg.Console.MaxUploadMB,
		},
		Attendance: fromUpstream(cfg.Attendance),
		Detector: fileDetector{
			BaseURL:      cfg.Detector.BaseURL,
			Timeout:      cfg.Detector.Timeout.String(),
			CAFile:       cfg.Detector.CAFile,
			ArtifactPath: cfg.Detector.ArtifactPath,
			MaxImageMB:   cfg.Detector.MaxImageMB,
		},
		Dashboard: fileDashboard{
			Interval:    cfg.Dashboard.Interval.String(),
			RecentLimit: cfg.Dashboard.RecentLimit,
		},
		Reconcile: fileReconcile{
			StepTimeout:     cfg.Reconcile.StepTimeout.String(),
			StrictHeadcount: cfg.Reconcile.StrictHeadcount,
			NoticeTTL:       cfg.Reconcile.NoticeTTL.String(),
		},
	}
}

func fromUpstream(u UpstreamConfig) fileUpstream {
	return fileUpstream{BaseURL: u.BaseURL, Timeout: u.Timeout.String(), CAFile: u.CAFile}
}

const templateHeader = `# rollcall configuration
# Durations use Go syntax ("5s", "1m30s"). ROLLCALL_* variables override these values.

`

// Template renders cfg as a TOML document Load accepts.
func Template(cfg Config) ([]byte, error) {
	body, err := toml.Marshal(toFile(cfg))
	if err != nil {
		return nil, fmt.Errorf("config: render template: %w", err)
	}
	return append([]byte(templateHeader), body...), nil
}

// WriteTemplate writes the default configuration to path.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	data, err := Template(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

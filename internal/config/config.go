// Package config resolves rollcall runtime settings from defaults, an
// optional TOML file, an optional .env file and ROLLCALL_* variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Console    ConsoleConfig
	Attendance UpstreamConfig
	Detector   DetectorConfig
	Dashboard  DashboardConfig
	Reconcile  ReconcileConfig
}

type ConsoleConfig struct {
	ID          string   `validate:"required"`
	Addr        string   `validate:"required,hostname_port"`
	CORSOrigins []string `validate:"dive,required"`
	MaxUploadMB int      `validate:"gte=1,lte=100"`
}

type UpstreamConfig struct {
	BaseURL string        `validate:"required,url"`
	Timeout time.Duration `validate:"gt=0"`
	CAFile  string        `validate:"omitempty,file"`
}

type DetectorConfig struct {
	UpstreamConfig
	ArtifactPath string `validate:"omitempty,startswith=/"`
	MaxImageMB   int    `validate:"gte=1,lte=100"`
}

type DashboardConfig struct {
	Interval    time.Duration `validate:"gte=1s"`
	RecentLimit int           `validate:"gte=1,lte=100"`
}

type ReconcileConfig struct {
	StepTimeout     time.Duration `validate:"gt=0"`
	StrictHeadcount bool
	NoticeTTL       time.Duration `validate:"gt=0"`
}

func Default() Config {
	return Config{
		Console: ConsoleConfig{
			ID:          "rollcall",
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000"},
			MaxUploadMB: 10,
		},
		Attendance: UpstreamConfig{
			BaseURL: "http://localhost:5000",
			Timeout: 10 * time.Second,
		},
		Detector: DetectorConfig{
			UpstreamConfig: UpstreamConfig{
				BaseURL: "http://localhost:5000",
				Timeout: 30 * time.Second,
			},
			ArtifactPath: "/static/uploads/debug_active.jpg",
			MaxImageMB:   10,
		},
		Dashboard: DashboardConfig{
			Interval:    5 * time.Second,
			RecentLimit: 10,
		},
		Reconcile: ReconcileConfig{
			StepTimeout: 30 * time.Second,
			NoticeTTL:   10 * time.Second,
		},
	}
}

// LoadOptions names the optional sources Load reads. Empty paths are skipped.
type LoadOptions struct {
	Path    string
	EnvFile string
	// Lookup reads environment variables; nil means os.LookupEnv.
	Lookup func(string) (string, bool)
}

// Load layers the file, the env file and the environment over Default and
// validates the result.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(opts.Path) != "" {
		if err := overlayFile(&cfg, opts.Path); err != nil {
			return Config{}, err
		}
	}
	if err := LoadEnvFile(opts.EnvFile); err != nil {
		return Config{}, err
	}
	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadEnvFile exports the variables in path without overriding ones already
// set. A missing file is not an error.
func LoadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load env file (%s): %w", path, err)
	}
	return nil
}

var validate = validator.New()

func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func overlayFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("%w: unknown key %q in %s", ErrInvalid, undecoded[0].String(), path)
	}

	if meta.IsDefined("console", "id") {
		cfg.Console.ID = strings.TrimSpace(raw.Console.ID)
	}
	if meta.IsDefined("console", "addr") {
		cfg.Console.Addr = strings.TrimSpace(raw.Console.Addr)
	}
	if meta.IsDefined("console", "cors_origins") {
		cfg.Console.CORSOrigins = normalizeList(raw.Console.CORSOrigins)
	}
	if meta.IsDefined("console", "max_upload_mb") {
		cfg.Console.MaxUploadMB = raw.Console.MaxUploadMB
	}

	if err := overlayUpstream(meta, "attendance", raw.Attendance, &cfg.Attendance); err != nil {
		return err
	}
	if err := overlayUpstream(meta, "detector", fileUpstream{
		BaseURL: raw.Detector.BaseURL,
		Timeout: raw.Detector.Timeout,
		CAFile:  raw.Detector.CAFile,
	}, &cfg.Detector.UpstreamConfig); err != nil {
		return err
	}
	if meta.IsDefined("detector", "artifact_path") {
		cfg.Detector.ArtifactPath = strings.TrimSpace(raw.Detector.ArtifactPath)
	}
	if meta.IsDefined("detector", "max_image_mb") {
		cfg.Detector.MaxImageMB = raw.Detector.MaxImageMB
	}

	if meta.IsDefined("dashboard", "interval") {
		if cfg.Dashboard.Interval, err = parseDuration("dashboard.interval", raw.Dashboard.Interval); err != nil {
			return err
		}
	}
	if meta.IsDefined("dashboard", "recent_limit") {
		cfg.Dashboard.RecentLimit = raw.Dashboard.RecentLimit
	}

	if meta.IsDefined("reconcile", "step_timeout") {
		if cfg.Reconcile.StepTimeout, err = parseDuration("reconcile.step_timeout", raw.Reconcile.StepTimeout); err != nil {
			return err
		}
	}
	if meta.IsDefined("reconcile", "strict_headcount") {
		cfg.Reconcile.StrictHeadcount = raw.Reconcile.StrictHeadcount
	}
	if meta.IsDefined("reconcile", "notice_ttl") {
		if cfg.Reconcile.NoticeTTL, err = parseDuration("reconcile.notice_ttl", raw.Reconcile.NoticeTTL); err != nil {
			return err
		}
	}
	return nil
}

func overlayUpstream(meta toml.MetaData, table string, raw fileUpstream, out *UpstreamConfig) error {
	if meta.IsDefined(table, "base_url") {
		out.BaseURL = strings.TrimSpace(raw.BaseURL)
	}
	if meta.IsDefined(table, "timeout") {
		d, err := parseDuration(table+".timeout", raw.Timeout)
		if err != nil {
			return err
		}
		out.Timeout = d
	}
	if meta.IsDefined(table, "ca_file") {
		out.CAFile = strings.TrimSpace(raw.CAFile)
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", key, err)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

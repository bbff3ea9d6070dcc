// Package config loads docdispatch configuration from a TOML file and
// exposes it as an immutable snapshot. The orchestrator and classifier
// are constructed from a snapshot, so a reload mid-run can never change
// the behaviour of work already in flight.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
)

// PipelineConfig bounds the orchestrator.
type PipelineConfig struct {
	// Workers is the size of the processing pool.
	Workers int `toml:"workers"`

	// QueueSize bounds the intake queue; submissions beyond it are
	// rejected with ErrQueueFull.
	QueueSize int `toml:"queue_size"`

	// RetryLimit is the maximum number of retryable failures per
	// document before it moves to FAILED.
	RetryLimit int `toml:"retry_limit"`

	// RetryBackoff is the initial backoff between retries; doubled on
	// each attempt.
	RetryBackoff time.Duration `toml:"retry_backoff"`

	// PollInterval is how often continuous mode polls the channels.
	PollInterval time.Duration `toml:"poll_interval"`
}

// ExtractionConfig bounds the extraction gateway.
type ExtractionConfig struct {
	// Timeout is the per-call time bound for each extractor type.
	Timeout map[string]time.Duration `toml:"timeout"`

	// Concurrency caps concurrent calls per extractor type. OCR-class
	// extraction is CPU and memory heavy and defaults far lower than
	// plain text.
	Concurrency map[string]int64 `toml:"concurrency"`

	// OCRCommand is the external OCR binary invoked for images and
	// scanned PDFs.
	OCRCommand string `toml:"ocr_command"`

	// OCRLanguages is passed to the OCR binary (e.g. "eng+mal").
	OCRLanguages string `toml:"ocr_languages"`
}

// ClassifierConfig configures the classification engine.
type ClassifierConfig struct {
	// RulesFile points at an external rule table; when empty the
	// built-in default rules apply.
	RulesFile string `toml:"rules_file"`

	// Priority is the declared tie-break ordering over departments.
	// Empty means domain.DefaultDepartmentPriority.
	Priority []string `toml:"priority"`

	// Translations folds script-specific variants of equivalent terms
	// onto canonical tokens before rule evaluation, so multilingual
	// content does not need per-script rule duplication.
	Translations map[string]string `toml:"translations"`
}

// FilesystemChannelConfig configures the fsnotify-based watcher channel.
type FilesystemChannelConfig struct {
	Enabled   bool     `toml:"enabled"`
	WatchDirs []string `toml:"watch_dirs"`
}

// ManualChannelConfig configures the upload-directory channel.
type ManualChannelConfig struct {
	Enabled   bool   `toml:"enabled"`
	UploadDir string `toml:"upload_dir"`
}

// EmailChannelConfig configures the Gmail intake channel.
type EmailChannelConfig struct {
	Enabled bool `toml:"enabled"`

	// Query is a Gmail search query filtering which messages to ingest.
	Query string `toml:"query"`

	// LabelIDs restricts ingestion to messages carrying any of these
	// labels. Empty means INBOX.
	LabelIDs []string `toml:"label_ids"`

	// TokenFile holds the OAuth token JSON.
	TokenFile string `toml:"token_file"`

	// RequestsPerSecond / Burst bound Gmail API usage.
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// RemoteChannelConfig configures the Dropbox remote-store channel.
type RemoteChannelConfig struct {
	Enabled bool `toml:"enabled"`

	// Folder is the Dropbox folder to poll.
	Folder string `toml:"folder"`

	// TokenEnv names the environment variable holding the access
	// token, so the token itself never lives in the config file.
	TokenEnv string `toml:"token_env"`
}

// ChannelsConfig groups all intake channels.
type ChannelsConfig struct {
	Filesystem FilesystemChannelConfig `toml:"filesystem"`
	Manual     ManualChannelConfig     `toml:"manual"`
	Email      EmailChannelConfig      `toml:"email"`
	Remote     RemoteChannelConfig     `toml:"remote"`
}

// Config is the full docdispatch configuration.
type Config struct {
	// DataDir holds the ledger database. Defaults to ~/.docdispatch/data.
	DataDir string `toml:"data_dir"`

	// StagingDir is where channel adapters stage intake content.
	StagingDir string `toml:"staging_dir"`

	Pipeline   PipelineConfig   `toml:"pipeline"`
	Extraction ExtractionConfig `toml:"extraction"`
	Classifier ClassifierConfig `toml:"classifier"`
	Channels   ChannelsConfig   `toml:"channels"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			Workers:      4,
			QueueSize:    256,
			RetryLimit:   3,
			RetryBackoff: 500 * time.Millisecond,
			PollInterval: 30 * time.Second,
		},
		Extraction: ExtractionConfig{
			Timeout: map[string]time.Duration{
				string(domain.TypePDF):    60 * time.Second,
				string(domain.TypeOffice): 30 * time.Second,
				string(domain.TypeImage):  120 * time.Second,
				string(domain.TypeCAD):    30 * time.Second,
				string(domain.TypeText):   10 * time.Second,
			},
			Concurrency: map[string]int64{
				string(domain.TypePDF):    4,
				string(domain.TypeOffice): 4,
				string(domain.TypeImage):  1,
				string(domain.TypeCAD):    2,
				string(domain.TypeText):   8,
			},
			OCRCommand:   "tesseract",
			OCRLanguages: "eng+mal",
		},
		Classifier: ClassifierConfig{},
		Channels: ChannelsConfig{
			Filesystem: FilesystemChannelConfig{Enabled: true},
			Manual:     ManualChannelConfig{Enabled: true},
			Email: EmailChannelConfig{
				RequestsPerSecond: 2.0,
				Burst:             5,
				LabelIDs:          []string{"INBOX"},
			},
			Remote: RemoteChannelConfig{TokenEnv: "DOCDISPATCH_DROPBOX_TOKEN"},
		},
	}
}

// Load reads configuration from path, layering the file over Default().
// A missing file is not an error; the defaults apply unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		path = filepath.Join(home, ".docdispatch", "config.toml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyDirDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDirDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDirDefaults fills DataDir and StagingDir when the file left them
// empty.
func (c *Config) applyDirDefaults() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	if c.DataDir == "" {
		c.DataDir = filepath.Join(home, ".docdispatch", "data")
	}
	if c.StagingDir == "" {
		c.StagingDir = filepath.Join(home, ".docdispatch", "staging")
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("%w: pipeline.workers must be at least 1", domain.ErrInvalidInput)
	}
	if c.Pipeline.QueueSize < 1 {
		return fmt.Errorf("%w: pipeline.queue_size must be at least 1", domain.ErrInvalidInput)
	}
	if c.Pipeline.RetryLimit < 0 {
		return fmt.Errorf("%w: pipeline.retry_limit must not be negative", domain.ErrInvalidInput)
	}
	for _, d := range c.Classifier.Priority {
		if !knownDepartment(domain.Department(d)) {
			return fmt.Errorf("%w: unknown department %q in classifier.priority", domain.ErrInvalidInput, d)
		}
	}
	return nil
}

// DepartmentPriority resolves the configured tie-break ordering.
func (c *Config) DepartmentPriority() []domain.Department {
	if len(c.Classifier.Priority) == 0 {
		return append([]domain.Department(nil), domain.DefaultDepartmentPriority...)
	}
	out := make([]domain.Department, 0, len(c.Classifier.Priority))
	for _, d := range c.Classifier.Priority {
		out = append(out, domain.Department(d))
	}
	return out
}

// Snapshot returns a deep copy. Handing a snapshot to the orchestrator
// keeps a concurrent reload from changing behaviour mid-run.
func (c *Config) Snapshot() *Config {
	cp := *c

	cp.Extraction.Timeout = make(map[string]time.Duration, len(c.Extraction.Timeout))
	for k, v := range c.Extraction.Timeout {
		cp.Extraction.Timeout[k] = v
	}
	cp.Extraction.Concurrency = make(map[string]int64, len(c.Extraction.Concurrency))
	for k, v := range c.Extraction.Concurrency {
		cp.Extraction.Concurrency[k] = v
	}

	cp.Classifier.Priority = append([]string(nil), c.Classifier.Priority...)
	cp.Classifier.Translations = make(map[string]string, len(c.Classifier.Translations))
	for k, v := range c.Classifier.Translations {
		cp.Classifier.Translations[k] = v
	}

	cp.Channels.Filesystem.WatchDirs = append([]string(nil), c.Channels.Filesystem.WatchDirs...)
	cp.Channels.Email.LabelIDs = append([]string(nil), c.Channels.Email.LabelIDs...)

	return &cp
}

func knownDepartment(d domain.Department) bool {
	switch d {
	case domain.DeptEngineering, domain.DeptProcurement, domain.DeptHR,
		domain.DeptFinance, domain.DeptSafety, domain.DeptOperations,
		domain.DeptLegal, domain.DeptRegulatory, domain.DeptUnclassified:
		return true
	}
	return false
}

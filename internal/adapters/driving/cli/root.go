// Package cli implements the docdispatch command line interface.
//
// Commands are thin adapters over the driving ports: they wire the
// configured adapters together, invoke one pipeline or ledger
// operation and render the result. No business logic lives here.
package cli

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/docdispatch/internal/adapters/driven/channels/email"
	"github.com/custodia-labs/docdispatch/internal/adapters/driven/channels/filesystem"
	"github.com/custodia-labs/docdispatch/internal/adapters/driven/channels/manual"
	"github.com/custodia-labs/docdispatch/internal/adapters/driven/channels/remote"
	"github.com/custodia-labs/docdispatch/internal/adapters/driven/notify"
	"github.com/custodia-labs/docdispatch/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/docdispatch/internal/config"
	"github.com/custodia-labs/docdispatch/internal/core/ports/driven"
	"github.com/custodia-labs/docdispatch/internal/core/ports/driving"
	"github.com/custodia-labs/docdispatch/internal/core/services"
	"github.com/custodia-labs/docdispatch/internal/extractors"
	"github.com/custodia-labs/docdispatch/internal/extractors/cad"
	"github.com/custodia-labs/docdispatch/internal/extractors/image"
	"github.com/custodia-labs/docdispatch/internal/extractors/office"
	"github.com/custodia-labs/docdispatch/internal/extractors/pdf"
	"github.com/custodia-labs/docdispatch/internal/extractors/text"
	"github.com/custodia-labs/docdispatch/internal/logger"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	verboseFlag bool
	configPath  string
)

// Wired services, built once per process by ensureServices.
var (
	cfg      *config.Config
	ledger   driven.Ledger
	pipeline driving.Pipeline
	stats    *notify.StatsNotifier

	wireOnce sync.Once
	wireErr  error
)

var rootCmd = &cobra.Command{
	Use:   "docdispatch",
	Short: "Document dispatch and classification pipeline",
	Long: `docdispatch ingests documents from email, watched directories,
manual uploads and remote storage, extracts their text, classifies them
to the owning department and records every step in a durable ledger.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verboseFlag)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
}

// Execute runs the CLI.
func Execute() error {
	defer closeServices()
	return rootCmd.Execute()
}

// ensureServices wires the pipeline from configuration. Commands that
// need no services (version) never call it.
func ensureServices(ctx context.Context) error {
	wireOnce.Do(func() { wireErr = wireServices(ctx) })
	return wireErr
}

func wireServices(ctx context.Context) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	store, err := sqlite.NewLedger(cfg.DataDir, cfg.Pipeline.RetryLimit)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	ledger = store

	rules, err := config.LoadRules(cfg.Classifier.RulesFile)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	classifier, err := services.NewClassifier(rules, cfg.DepartmentPriority(), cfg.Classifier.Translations)
	if err != nil {
		return fmt.Errorf("compiling rules: %w", err)
	}

	ocr := image.New(cfg.Extraction.OCRCommand, cfg.Extraction.OCRLanguages)
	gateway := extractors.NewGateway(
		extractors.Options{
			Timeouts:    cfg.Extraction.Timeout,
			Concurrency: cfg.Extraction.Concurrency,
		},
		pdf.NewWithOCR(ocr),
		office.New(),
		ocr,
		cad.New(),
		text.New(),
	)

	stats = notify.NewStatsNotifier()
	notifiers := []driven.Notifier{notify.NewLogNotifier(), stats}

	pipeline = services.NewOrchestrator(
		ledger, gateway, classifier, buildChannels(ctx), notifiers,
		services.OrchestratorOptions{
			Workers:      cfg.Pipeline.Workers,
			QueueSize:    cfg.Pipeline.QueueSize,
			RetryLimit:   cfg.Pipeline.RetryLimit,
			RetryBackoff: cfg.Pipeline.RetryBackoff,
			PollInterval: cfg.Pipeline.PollInterval,
		},
	)
	return nil
}

// buildChannels constructs the enabled intake channels. A channel whose
// credentials do not resolve is skipped with a warning rather than
// failing the whole CLI; `docdispatch check` reports the details.
func buildChannels(ctx context.Context) []driven.Channel {
	var chans []driven.Channel

	if fs := cfg.Channels.Filesystem; fs.Enabled && len(fs.WatchDirs) > 0 {
		chans = append(chans, filesystem.New(fs.WatchDirs))
	}

	if m := cfg.Channels.Manual; m.Enabled {
		uploadDir := m.UploadDir
		if uploadDir == "" {
			uploadDir = cfg.StagingDir + "-uploads"
		}
		chans = append(chans, manual.New(uploadDir, cfg.StagingDir))
	}

	if e := cfg.Channels.Email; e.Enabled {
		ch, err := email.New(ctx, email.Options{
			Query:             e.Query,
			LabelIDs:          e.LabelIDs,
			TokenFile:         e.TokenFile,
			RequestsPerSecond: e.RequestsPerSecond,
			Burst:             e.Burst,
		})
		if err != nil {
			logger.Warn("email channel disabled: %v", err)
		} else {
			chans = append(chans, ch)
		}
	}

	if r := cfg.Channels.Remote; r.Enabled {
		token := os.Getenv(r.TokenEnv)
		if token == "" {
			logger.Warn("remote channel disabled: %s not set", r.TokenEnv)
		} else {
			chans = append(chans, remote.New(token, r.Folder))
		}
	}

	return chans
}

func closeServices() {
	if ledger != nil {
		if err := ledger.Close(); err != nil {
			logger.Error("closing ledger: %v", err)
		}
	}
}

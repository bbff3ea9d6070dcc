package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
)

func TestLoad(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
		require.NoError(t, err)
		assert.Equal(t, 4, cfg.Pipeline.Workers)
		assert.Equal(t, 3, cfg.Pipeline.RetryLimit)
		assert.Equal(t, "tesseract", cfg.Extraction.OCRCommand)
		assert.NotEmpty(t, cfg.DataDir)
		assert.NotEmpty(t, cfg.StagingDir)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		content := `
data_dir = "/var/lib/docdispatch"

[pipeline]
workers = 8
queue_size = 512
retry_limit = 5

[classifier]
priority = ["FINANCE", "SAFETY"]

[channels.filesystem]
enabled = true
watch_dirs = ["/srv/scans", "/srv/uploads"]
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "/var/lib/docdispatch", cfg.DataDir)
		assert.Equal(t, 8, cfg.Pipeline.Workers)
		assert.Equal(t, 5, cfg.Pipeline.RetryLimit)
		assert.Equal(t, []string{"/srv/scans", "/srv/uploads"}, cfg.Channels.Filesystem.WatchDirs)
		assert.Equal(t,
			[]domain.Department{domain.DeptFinance, domain.DeptSafety},
			cfg.DepartmentPriority())
	})

	t.Run("invalid department in priority is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		content := `
[classifier]
priority = ["JANITORIAL"]
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))

		_, err := Load(path)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("zero workers rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		require.NoError(t, os.WriteFile(path, []byte("[pipeline]\nworkers = 0\n"), 0600))

		_, err := Load(path)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestConfig_DepartmentPriority(t *testing.T) {
	t.Run("empty falls back to declared default", func(t *testing.T) {
		cfg := Default()
		assert.Equal(t, domain.DefaultDepartmentPriority, cfg.DepartmentPriority())
	})
}

func TestConfig_Snapshot(t *testing.T) {
	t.Run("mutating the original does not affect the snapshot", func(t *testing.T) {
		cfg := Default()
		cfg.Classifier.Translations = map[string]string{"സുരക്ഷ": "safety"}
		cfg.Channels.Filesystem.WatchDirs = []string{"/a"}

		snap := cfg.Snapshot()

		cfg.Classifier.Translations["സുരക്ഷ"] = "changed"
		cfg.Channels.Filesystem.WatchDirs[0] = "/b"
		cfg.Extraction.Concurrency[string(domain.TypeImage)] = 99

		assert.Equal(t, "safety", snap.Classifier.Translations["സുരക്ഷ"])
		assert.Equal(t, "/a", snap.Channels.Filesystem.WatchDirs[0])
		assert.Equal(t, int64(1), snap.Extraction.Concurrency[string(domain.TypeImage)])
	})
}

func TestLoadRules(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		rules, err := LoadRules("")
		require.NoError(t, err)
		require.NotEmpty(t, rules)

		// Every department except UNCLASSIFIED should be represented.
		seen := map[domain.Department]bool{}
		for _, r := range rules {
			seen[r.Department] = true
		}
		for _, d := range domain.DefaultDepartmentPriority {
			assert.True(t, seen[d], "department %s should have rules", d)
		}
	})

	t.Run("loads a valid rules file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.toml")
		content := `
[[rules]]
id = "proc-po"
department = "PROCUREMENT"
keyword = "purchase order"
weight = 0.6

[[rules]]
id = "proc-invoice"
department = "PROCUREMENT"
pattern = 'invoice\s+no'
weight = 0.4
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))

		rules, err := LoadRules(path)
		require.NoError(t, err)
		require.Len(t, rules, 2)
		assert.Equal(t, "proc-po", rules[0].ID)
		assert.Equal(t, domain.FieldText, rules[0].Field)
		assert.Equal(t, domain.DeptProcurement, rules[1].Department)
	})

	t.Run("rejects rule with both keyword and pattern", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.toml")
		content := `
[[rules]]
id = "bad"
department = "HR"
keyword = "leave"
pattern = "leave"
weight = 0.5
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))

		_, err := LoadRules(path)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("rejects non-positive weight", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.toml")
		content := `
[[rules]]
id = "bad"
department = "HR"
keyword = "leave"
weight = 0.0
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))

		_, err := LoadRules(path)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("rejects bad regex", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.toml")
		content := `
[[rules]]
id = "bad"
department = "HR"
pattern = "(("
weight = 0.5
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))

		_, err := LoadRules(path)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("default rules all validate", func(t *testing.T) {
		for _, r := range DefaultRules() {
			assert.NoError(t, validateRule(r), "rule %s", r.ID)
		}
	})
}

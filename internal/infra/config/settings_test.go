package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
)

func writeSettings(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, SettingFile), []byte(content), 0o644))
}

func TestLoadSettings_Defaults(t *testing.T) {
	t.Setenv("ASW_AGENT_BIN", "")
	t.Setenv("ASW_STDERR_LEVEL", "")
	dir := t.TempDir()

	cfg, err := LoadSettings(dir)
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.ConfigSource())
	assert.Equal(t, dir, cfg.Home())
	assert.Equal(t, "main", cfg.TrunkBranch())
	assert.Equal(t, filepath.Join(dir, "agents"), cfg.AgentsRoot())
	assert.Equal(t, filepath.Join(".", "trees"), cfg.WorktreesRoot())
	assert.Equal(t, filepath.Join(dir, "asw.db"), cfg.DBPath())
	assert.Equal(t, "claude", cfg.AgentBin())
	assert.Equal(t, 900*time.Second, cfg.Timeout())
	assert.Equal(t, "sonnet", cfg.Model(workflow.ModelTierStandard))
	assert.Equal(t, "opus", cfg.Model(workflow.ModelTierElevated))
	assert.Equal(t, workflow.FamilyApp, cfg.Family())

	assert.Equal(t, 9100, cfg.Ports().PrimaryBase)
	assert.Equal(t, 9200, cfg.Ports().SecondaryBase)
	assert.Equal(t, 15, cfg.Ports().Slots)

	r := cfg.Retry()
	assert.Equal(t, 3, r.MaxAttempts)
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second, 5 * time.Second}, r.Delays)
	assert.Equal(t, []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second}, r.TimeoutDelays)

	assert.Equal(t, 3, cfg.Test().MaxRemediation)
	assert.Equal(t, 3, cfg.MaxReviewCycles())
	assert.Equal(t, "specs/plan-{issue}.md", cfg.PlanArtifactPattern())
	assert.Equal(t, "squash", cfg.GitHub().MergeMethod)
	assert.Equal(t, "none", cfg.Archive().Type)
	assert.Equal(t, "warn", cfg.StderrLevel())
}

func TestLoadSettings_FromYAML(t *testing.T) {
	t.Setenv("ASW_AGENT_BIN", "")
	t.Setenv("ASW_STDERR_LEVEL", "")
	dir := t.TempDir()
	writeSettings(t, dir, `
repo_root: /srv/repo
trunk_branch: develop
family: infra
models:
  elevated: opus-large
ports:
  primary_base: 8000
  secondary_base: 8100
  slots: 10
retry:
  max_attempts: 5
  delays: ["100ms"]
test:
  commands: ["go test ./..."]
archive:
  type: s3
  s3_bucket: audit
`)

	cfg, err := LoadSettings(dir)
	require.NoError(t, err)

	assert.Equal(t, "yaml", cfg.ConfigSource())
	assert.Equal(t, filepath.Join(dir, SettingFile), cfg.SettingPath())
	assert.Equal(t, "/srv/repo/trees", cfg.WorktreesRoot())
	assert.Equal(t, "develop", cfg.TrunkBranch())
	assert.Equal(t, workflow.FamilyInfra, cfg.Family())
	assert.Equal(t, "sonnet", cfg.Model(workflow.ModelTierStandard))
	assert.Equal(t, "opus-large", cfg.Model(workflow.ModelTierElevated))
	assert.Equal(t, 8000, cfg.Ports().PrimaryBase)
	assert.Equal(t, 5, cfg.Retry().MaxAttempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, cfg.Retry().Delays)
	assert.Equal(t, []string{"go test ./..."}, cfg.Test().Commands)
	assert.Equal(t, "audit", cfg.Archive().S3Bucket)
}

func TestLoadSettings_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, "agent_bin: from-file\nstderr_level: info\n")
	t.Setenv("ASW_AGENT_BIN", "/opt/claude")
	t.Setenv("ASW_STDERR_LEVEL", "debug")

	cfg, err := LoadSettings(dir)
	require.NoError(t, err)
	assert.Equal(t, "/opt/claude", cfg.AgentBin())
	assert.Equal(t, "debug", cfg.StderrLevel())
}

func TestLoadSettings_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"overlapping ranges", "ports: {primary_base: 9100, secondary_base: 9105, slots: 15}\n", "overlaps"},
		{"zero slots", "ports: {slots: 0}\n", "ports.slots"},
		{"zero attempts", "retry: {max_attempts: 0}\n", "max_attempts"},
		{"negative delay", "retry: {delays: [\"-1s\"]}\n", "retry.delays"},
		{"bad tier", "default_model_tier: huge\n", "default_model_tier"},
		{"bad family", "family: mobile\n", "family"},
		{"remediation above cap", "test: {max_remediation: 4}\n", "test.max_remediation"},
		{"negative remediation", "test: {max_remediation: -1}\n", "test.max_remediation"},
		{"s3 without bucket", "archive: {type: s3}\n", "s3_bucket"},
		{"unknown archive", "archive: {type: ftp}\n", "archive.type"},
		{"malformed yaml", "ports: [\n", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeSettings(t, dir, tt.content)
			_, err := LoadSettings(dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolveHome(t *testing.T) {
	t.Setenv("ASW_HOME", "")
	assert.Equal(t, DefaultHome, ResolveHome(""))

	t.Setenv("ASW_HOME", "/var/asw")
	assert.Equal(t, "/var/asw", ResolveHome(""))
	assert.Equal(t, "/flag", ResolveHome("/flag"))
}

func TestCreateDefaultSettings_RoundTrips(t *testing.T) {
	var raw RawSettings
	require.NoError(t, yaml.Unmarshal(CreateDefaultSettings(), &raw))
	require.NotNil(t, raw.Ports)
	assert.Equal(t, 9100, *raw.Ports.PrimaryBase)
	assert.Equal(t, "specs/plan-{issue}.md", *raw.Plan.ArtifactPattern)
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/asw/internal/app/config"
	"github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
)

// SettingFile is the configuration file name inside the home directory
const SettingFile = "setting.yaml"

// RawSettings represents the structure of setting.yaml.
// Pointer fields distinguish "absent" from zero values so defaults apply.
type RawSettings struct {
	Home        *string `yaml:"home"`
	RepoRoot    *string `yaml:"repo_root"`
	TrunkBranch *string `yaml:"trunk_branch"`
	TreesDir    *string `yaml:"trees_dir"`
	AgentsDir   *string `yaml:"agents_dir"`
	DBPath      *string `yaml:"db_path"`

	AgentType        *string    `yaml:"agent_type"`
	AgentBin         *string    `yaml:"agent_bin"`
	TimeoutSec       *int       `yaml:"timeout_sec"`
	Models           *RawModels `yaml:"models"`
	DefaultModelTier *string    `yaml:"default_model_tier"`
	Family           *string    `yaml:"family"`

	Ports    *RawPorts    `yaml:"ports"`
	Retry    *RawRetry    `yaml:"retry"`
	Test     *RawTest     `yaml:"test"`
	Review   *RawReview   `yaml:"review"`
	Plan     *RawArtifact `yaml:"plan"`
	Document *RawArtifact `yaml:"document"`
	LockTTL  *int         `yaml:"lock_ttl_sec"`

	GitHub      *RawGitHub  `yaml:"github"`
	Archive     *RawArchive `yaml:"archive"`
	MetricsFile *string     `yaml:"metrics_file"`

	StderrLevel *string `yaml:"stderr_level"`
}

type RawModels struct {
	Standard *string `yaml:"standard"`
	Elevated *string `yaml:"elevated"`
}

type RawPorts struct {
	PrimaryBase   *int `yaml:"primary_base"`
	SecondaryBase *int `yaml:"secondary_base"`
	Slots         *int `yaml:"slots"`
}

type RawRetry struct {
	MaxAttempts   *int     `yaml:"max_attempts"`
	Delays        []string `yaml:"delays"`
	TimeoutDelays []string `yaml:"timeout_delays"`
}

type RawTest struct {
	Commands       []string `yaml:"commands"`
	E2ECommands    []string `yaml:"e2e_commands"`
	MaxRemediation *int     `yaml:"max_remediation"`
}

type RawReview struct {
	MaxCycles *int `yaml:"max_cycles"`
}

type RawArtifact struct {
	ArtifactPattern *string `yaml:"artifact_pattern"`
}

type RawGitHub struct {
	Repo        *string `yaml:"repo"`
	MergeMethod *string `yaml:"merge_method"`
}

type RawArchive struct {
	Type     *string `yaml:"type"`
	Dir      *string `yaml:"dir"`
	S3Bucket *string `yaml:"s3_bucket"`
	S3Prefix *string `yaml:"s3_prefix"`
	S3Region *string `yaml:"s3_region"`
}

// LoadSettings loads configuration from <baseDir>/setting.yaml.
// Priority: environment overrides > setting.yaml > defaults
func LoadSettings(baseDir string) (*config.AppConfig, error) {
	settings := &RawSettings{}
	configSource := "default"
	settingPath := ""

	yamlPath := filepath.Join(baseDir, SettingFile)
	if data, err := os.ReadFile(yamlPath); err == nil {
		if err := yaml.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", yamlPath, err)
		}
		configSource = "yaml"
		settingPath = yamlPath
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", yamlPath, err)
	}

	if settings.Home == nil {
		settings.Home = &baseDir
	}
	applyEnvOverrides(settings)
	applyDefaults(settings)

	return buildAppConfig(settings, configSource, settingPath)
}

// applyEnvOverrides lets a handful of environment variables win over the file
func applyEnvOverrides(settings *RawSettings) {
	if v := os.Getenv("ASW_AGENT_BIN"); v != "" {
		settings.AgentBin = &v
	}
	if v := os.Getenv("ASW_STDERR_LEVEL"); v != "" {
		settings.StderrLevel = &v
	}
}

func str(p **string, def string) {
	if *p == nil {
		*p = &def
	}
}

func num(p **int, def int) {
	if *p == nil {
		*p = &def
	}
}

// applyDefaults fills in default values for any nil fields
func applyDefaults(s *RawSettings) {
	str(&s.Home, DefaultHome)
	str(&s.RepoRoot, ".")
	str(&s.TrunkBranch, "main")
	str(&s.TreesDir, "trees")
	str(&s.AgentsDir, "agents")
	str(&s.DBPath, filepath.Join(*s.Home, "asw.db"))

	str(&s.AgentType, "claude-code-cli")
	str(&s.AgentBin, "claude")
	num(&s.TimeoutSec, 900) // 15 minutes for long agent turns
	if s.Models == nil {
		s.Models = &RawModels{}
	}
	str(&s.Models.Standard, "sonnet")
	str(&s.Models.Elevated, "opus")
	str(&s.DefaultModelTier, string(workflow.ModelTierStandard))
	str(&s.Family, string(workflow.FamilyApp))

	if s.Ports == nil {
		s.Ports = &RawPorts{}
	}
	num(&s.Ports.PrimaryBase, 9100)
	num(&s.Ports.SecondaryBase, 9200)
	num(&s.Ports.Slots, 15)

	if s.Retry == nil {
		s.Retry = &RawRetry{}
	}
	num(&s.Retry.MaxAttempts, 3)
	if s.Retry.Delays == nil {
		s.Retry.Delays = []string{"1s", "3s", "5s"}
	}
	if s.Retry.TimeoutDelays == nil {
		s.Retry.TimeoutDelays = []string{"5s", "15s", "30s"}
	}

	if s.Test == nil {
		s.Test = &RawTest{}
	}
	num(&s.Test.MaxRemediation, 3)

	if s.Review == nil {
		s.Review = &RawReview{}
	}
	num(&s.Review.MaxCycles, 3)

	if s.Plan == nil {
		s.Plan = &RawArtifact{}
	}
	str(&s.Plan.ArtifactPattern, "specs/plan-{issue}.md")
	if s.Document == nil {
		s.Document = &RawArtifact{}
	}
	str(&s.Document.ArtifactPattern, "docs/{id}.md")
	num(&s.LockTTL, 3600)

	if s.GitHub == nil {
		s.GitHub = &RawGitHub{}
	}
	str(&s.GitHub.Repo, "")
	str(&s.GitHub.MergeMethod, "squash")

	if s.Archive == nil {
		s.Archive = &RawArchive{}
	}
	str(&s.Archive.Type, "none")
	str(&s.Archive.Dir, filepath.Join(*s.Home, "archive"))
	str(&s.Archive.S3Bucket, "")
	str(&s.Archive.S3Prefix, "asw")
	str(&s.Archive.S3Region, "")
	str(&s.MetricsFile, "")

	str(&s.StderrLevel, "warn")
}

// buildAppConfig validates RawSettings and converts them to AppConfig
func buildAppConfig(s *RawSettings, configSource, settingPath string) (*config.AppConfig, error) {
	var problems []string
	bad := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	tier, err := workflow.ParseModelTier(*s.DefaultModelTier)
	if err != nil {
		bad("default_model_tier: %v", err)
	}
	family, err := workflow.ParseFamily(*s.Family)
	if err != nil {
		bad("family: %v", err)
	}

	p := config.PortsConfig{PrimaryBase: *s.Ports.PrimaryBase, SecondaryBase: *s.Ports.SecondaryBase, Slots: *s.Ports.Slots}
	if p.Slots <= 0 {
		bad("ports.slots must be positive")
	}
	if p.PrimaryBase <= 0 || p.SecondaryBase <= 0 || p.PrimaryBase+p.Slots > 65536 || p.SecondaryBase+p.Slots > 65536 {
		bad("port ranges must lie within 1-65535")
	}
	if p.PrimaryBase < p.SecondaryBase+p.Slots && p.SecondaryBase < p.PrimaryBase+p.Slots {
		bad("primary range %d-%d overlaps secondary range %d-%d",
			p.PrimaryBase, p.PrimaryBase+p.Slots-1, p.SecondaryBase, p.SecondaryBase+p.Slots-1)
	}

	if *s.Retry.MaxAttempts < 1 {
		bad("retry.max_attempts must be at least 1")
	}
	delays, err := parseDurations(s.Retry.Delays)
	if err != nil {
		bad("retry.delays: %v", err)
	}
	timeoutDelays, err := parseDurations(s.Retry.TimeoutDelays)
	if err != nil {
		bad("retry.timeout_delays: %v", err)
	}

	if *s.TimeoutSec <= 0 {
		bad("timeout_sec must be positive")
	}
	if *s.Test.MaxRemediation < 0 || *s.Test.MaxRemediation > config.MaxTestRemediation {
		bad("test.max_remediation must be between 0 and %d", config.MaxTestRemediation)
	}
	if *s.Review.MaxCycles < 1 {
		bad("review.max_cycles must be at least 1")
	}
	switch *s.Archive.Type {
	case "none", "local":
	case "s3":
		if *s.Archive.S3Bucket == "" {
			bad("archive.s3_bucket is required when archive.type is s3")
		}
	default:
		bad("archive.type %q must be none, local or s3", *s.Archive.Type)
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}

	return config.NewAppConfig(config.Values{
		Home:        *s.Home,
		RepoRoot:    *s.RepoRoot,
		TrunkBranch: *s.TrunkBranch,
		TreesDir:    *s.TreesDir,
		AgentsDir:   *s.AgentsDir,
		DBPath:      *s.DBPath,

		AgentType:        *s.AgentType,
		AgentBin:         *s.AgentBin,
		TimeoutSec:       *s.TimeoutSec,
		StandardModel:    *s.Models.Standard,
		ElevatedModel:    *s.Models.Elevated,
		DefaultModelTier: tier,
		Family:           family,

		Ports: p,
		Retry: config.RetryConfig{
			MaxAttempts:   *s.Retry.MaxAttempts,
			Delays:        delays,
			TimeoutDelays: timeoutDelays,
		},
		Test: config.TestConfig{
			Commands:       s.Test.Commands,
			E2ECommands:    s.Test.E2ECommands,
			MaxRemediation: *s.Test.MaxRemediation,
		},
		MaxReviewCycles:     *s.Review.MaxCycles,
		PlanArtifactPattern: *s.Plan.ArtifactPattern,
		DocsArtifactPattern: *s.Document.ArtifactPattern,
		LockTTLSec:          *s.LockTTL,

		GitHub: config.GitHubConfig{Repo: *s.GitHub.Repo, MergeMethod: *s.GitHub.MergeMethod},
		Archive: config.ArchiveConfig{
			Type:     *s.Archive.Type,
			Dir:      *s.Archive.Dir,
			S3Bucket: *s.Archive.S3Bucket,
			S3Prefix: *s.Archive.S3Prefix,
			S3Region: *s.Archive.S3Region,
		},
		MetricsFile: *s.MetricsFile,
		StderrLevel: *s.StderrLevel,

		ConfigSource: configSource,
		SettingPath:  settingPath,
	}), nil
}

func parseDurations(in []string) ([]time.Duration, error) {
	out := make([]time.Duration, 0, len(in))
	for _, s := range in {
		d, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		if d < 0 {
			return nil, fmt.Errorf("negative delay %q", s)
		}
		out = append(out, d)
	}
	return out, nil
}

// CreateDefaultSettings renders a setting.yaml populated with every default
func CreateDefaultSettings() []byte {
	settings := &RawSettings{}
	applyDefaults(settings)
	data, _ := yaml.Marshal(settings)
	return data
}

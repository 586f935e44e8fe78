package config

import (
	"path/filepath"
	"time"

	"github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
)

// Config provides read-only access to application configuration.
// The app layer never sees where a value came from (setting.yaml, env, default).
type Config interface {
	// Locations
	Home() string          // Base directory for asw data (ASW_HOME)
	RepoRoot() string      // Repository the worktrees are cut from
	TrunkBranch() string   // Branch new work starts from and ships into
	WorktreesRoot() string // <repo_root>/<trees_dir>
	AgentsRoot() string    // <home>/<agents_dir>
	DBPath() string        // sqlite file for locks and the workflow index

	// Agent
	AgentType() string      // Agent gateway implementation
	AgentBin() string       // Agent binary path (ASW_AGENT_BIN)
	Timeout() time.Duration // Per-call executor timeout
	Model(tier workflow.ModelTier) string
	DefaultModelTier() workflow.ModelTier
	Family() workflow.Family

	// Phase policies
	Ports() PortsConfig
	Retry() RetryConfig
	Test() TestConfig
	MaxReviewCycles() int
	PlanArtifactPattern() string
	DocsArtifactPattern() string
	LockTTL() time.Duration

	// External services
	GitHub() GitHubConfig
	Archive() ArchiveConfig
	MetricsFile() string

	// Logging
	StderrLevel() string // Stderr log level (ASW_STDERR_LEVEL)

	// Metadata
	ConfigSource() string // "yaml" or "default"
	SettingPath() string  // Path to setting.yaml if loaded from file
}

// PortsConfig describes the two disjoint port ranges
type PortsConfig struct {
	PrimaryBase   int `json:"primary_base" yaml:"primary_base"`
	SecondaryBase int `json:"secondary_base" yaml:"secondary_base"`
	Slots         int `json:"slots" yaml:"slots"`
}

// RetryConfig is the executor retry policy
type RetryConfig struct {
	MaxAttempts   int
	Delays        []time.Duration
	TimeoutDelays []time.Duration
}

// MaxTestRemediation caps the agent invocations the Test phase makes after
// the first failing verification run
const MaxTestRemediation = 3

// TestConfig lists the verification commands run by the Test phase
type TestConfig struct {
	Commands       []string `json:"commands" yaml:"commands"`
	E2ECommands    []string `json:"e2e_commands" yaml:"e2e_commands"`
	MaxRemediation int      `json:"max_remediation" yaml:"max_remediation"`
}

// GitHubConfig configures the change-request gateway
type GitHubConfig struct {
	Repo        string `json:"repo" yaml:"repo"`
	MergeMethod string `json:"merge_method" yaml:"merge_method"`
}

// ArchiveConfig selects where shipped workflows are archived
type ArchiveConfig struct {
	Type     string `json:"type" yaml:"type"` // none, local, s3
	Dir      string `json:"dir,omitempty" yaml:"dir,omitempty"`
	S3Bucket string `json:"s3_bucket,omitempty" yaml:"s3_bucket,omitempty"`
	S3Prefix string `json:"s3_prefix,omitempty" yaml:"s3_prefix,omitempty"`
	S3Region string `json:"s3_region,omitempty" yaml:"s3_region,omitempty"`
}

// AppConfig is the concrete implementation of Config interface.
// It is immutable once built by the infrastructure loader.
type AppConfig struct {
	home        string
	repoRoot    string
	trunkBranch string
	treesDir    string
	agentsDir   string
	dbPath      string

	agentType        string
	agentBin         string
	timeoutSec       int
	models           map[workflow.ModelTier]string
	defaultModelTier workflow.ModelTier
	family           workflow.Family

	ports               PortsConfig
	retry               RetryConfig
	test                TestConfig
	maxReviewCycles     int
	planArtifactPattern string
	docsArtifactPattern string
	lockTTLSec          int

	github      GitHubConfig
	archive     ArchiveConfig
	metricsFile string

	stderrLevel string

	configSource string
	settingPath  string
}

// Values is the flat input of NewAppConfig
type Values struct {
	Home, RepoRoot, TrunkBranch, TreesDir, AgentsDir, DBPath string

	AgentType, AgentBin string
	TimeoutSec          int
	StandardModel       string
	ElevatedModel       string
	DefaultModelTier    workflow.ModelTier
	Family              workflow.Family

	Ports               PortsConfig
	Retry               RetryConfig
	Test                TestConfig
	MaxReviewCycles     int
	PlanArtifactPattern string
	DocsArtifactPattern string
	LockTTLSec          int

	GitHub      GitHubConfig
	Archive     ArchiveConfig
	MetricsFile string

	StderrLevel string

	ConfigSource, SettingPath string
}

// NewAppConfig creates a new AppConfig with the given values.
// Called by the infrastructure layer after loading and merging configuration.
func NewAppConfig(v Values) *AppConfig {
	return &AppConfig{
		home:        v.Home,
		repoRoot:    v.RepoRoot,
		trunkBranch: v.TrunkBranch,
		treesDir:    v.TreesDir,
		agentsDir:   v.AgentsDir,
		dbPath:      v.DBPath,

		agentType:  v.AgentType,
		agentBin:   v.AgentBin,
		timeoutSec: v.TimeoutSec,
		models: map[workflow.ModelTier]string{
			workflow.ModelTierStandard: v.StandardModel,
			workflow.ModelTierElevated: v.ElevatedModel,
		},
		defaultModelTier: v.DefaultModelTier,
		family:           v.Family,

		ports:               v.Ports,
		retry:               copyRetry(v.Retry),
		test:                copyTest(v.Test),
		maxReviewCycles:     v.MaxReviewCycles,
		planArtifactPattern: v.PlanArtifactPattern,
		docsArtifactPattern: v.DocsArtifactPattern,
		lockTTLSec:          v.LockTTLSec,

		github:      v.GitHub,
		archive:     v.Archive,
		metricsFile: v.MetricsFile,

		stderrLevel: v.StderrLevel,

		configSource: v.ConfigSource,
		settingPath:  v.SettingPath,
	}
}

func (c *AppConfig) Home() string        { return c.home }
func (c *AppConfig) RepoRoot() string    { return c.repoRoot }
func (c *AppConfig) TrunkBranch() string { return c.trunkBranch }
func (c *AppConfig) DBPath() string      { return c.dbPath }

// WorktreesRoot returns the directory holding one worktree per workflow
func (c *AppConfig) WorktreesRoot() string {
	if filepath.IsAbs(c.treesDir) {
		return c.treesDir
	}
	return filepath.Join(c.repoRoot, c.treesDir)
}

// AgentsRoot returns the directory holding one state directory per workflow
func (c *AppConfig) AgentsRoot() string {
	if filepath.IsAbs(c.agentsDir) {
		return c.agentsDir
	}
	return filepath.Join(c.home, c.agentsDir)
}

func (c *AppConfig) AgentType() string { return c.agentType }
func (c *AppConfig) AgentBin() string  { return c.agentBin }

// Timeout returns the per-call executor timeout
func (c *AppConfig) Timeout() time.Duration {
	return time.Duration(c.timeoutSec) * time.Second
}

// Model returns the agent model configured for a tier; unknown tiers get the
// default tier's model
func (c *AppConfig) Model(tier workflow.ModelTier) string {
	if m, ok := c.models[tier]; ok && m != "" {
		return m
	}
	return c.models[c.defaultModelTier]
}

func (c *AppConfig) DefaultModelTier() workflow.ModelTier { return c.defaultModelTier }
func (c *AppConfig) Family() workflow.Family              { return c.family }

func (c *AppConfig) Ports() PortsConfig { return c.ports }

// Retry returns a copy of the retry policy
func (c *AppConfig) Retry() RetryConfig { return copyRetry(c.retry) }

// Test returns a copy of the verification settings
func (c *AppConfig) Test() TestConfig { return copyTest(c.test) }

func (c *AppConfig) MaxReviewCycles() int        { return c.maxReviewCycles }
func (c *AppConfig) PlanArtifactPattern() string { return c.planArtifactPattern }
func (c *AppConfig) DocsArtifactPattern() string { return c.docsArtifactPattern }

// LockTTL returns how long a run lock stays valid without its owner
func (c *AppConfig) LockTTL() time.Duration {
	return time.Duration(c.lockTTLSec) * time.Second
}

func (c *AppConfig) GitHub() GitHubConfig   { return c.github }
func (c *AppConfig) Archive() ArchiveConfig { return c.archive }
func (c *AppConfig) MetricsFile() string    { return c.metricsFile }
func (c *AppConfig) StderrLevel() string    { return c.stderrLevel }
func (c *AppConfig) ConfigSource() string   { return c.configSource }
func (c *AppConfig) SettingPath() string    { return c.settingPath }

func copyRetry(r RetryConfig) RetryConfig {
	r.Delays = append([]time.Duration(nil), r.Delays...)
	r.TimeoutDelays = append([]time.Duration(nil), r.TimeoutDelays...)
	return r
}

func copyTest(t TestConfig) TestConfig {
	t.Commands = append([]string(nil), t.Commands...)
	t.E2ECommands = append([]string(nil), t.E2ECommands...)
	return t
}

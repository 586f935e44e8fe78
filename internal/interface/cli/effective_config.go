package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/asw/internal/app/config"
	"github.com/YoshitsuguKoike/asw/internal/buildinfo"
	model "github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
	infraConfig "github.com/YoshitsuguKoike/asw/internal/infra/config"
)

// EffectiveConfig represents the final applied configuration for serialization
type EffectiveConfig struct {
	Meta    EffectiveConfigMeta    `json:"meta" yaml:"meta"`
	Paths   EffectiveConfigPaths   `json:"paths" yaml:"paths"`
	Agent   EffectiveConfigAgent   `json:"agent" yaml:"agent"`
	Ports   config.PortsConfig     `json:"ports" yaml:"ports"`
	Retry   EffectiveConfigRetry   `json:"retry" yaml:"retry"`
	Test    config.TestConfig      `json:"test" yaml:"test"`
	Review  EffectiveConfigReview  `json:"review" yaml:"review"`
	GitHub  config.GitHubConfig    `json:"github" yaml:"github"`
	Archive config.ArchiveConfig   `json:"archive" yaml:"archive"`
	Logging EffectiveConfigLogging `json:"logging" yaml:"logging"`
}

// EffectiveConfigMeta contains metadata about the configuration
type EffectiveConfigMeta struct {
	Source      string `json:"source" yaml:"source"`
	SettingPath string `json:"setting_path" yaml:"setting_path"`
	Version     string `json:"version" yaml:"version"`
	TsUTC       string `json:"ts_utc" yaml:"ts_utc"`
}

// EffectiveConfigPaths lists the resolved directories
type EffectiveConfigPaths struct {
	Home        string `json:"home" yaml:"home"`
	RepoRoot    string `json:"repo_root" yaml:"repo_root"`
	TrunkBranch string `json:"trunk_branch" yaml:"trunk_branch"`
	Worktrees   string `json:"worktrees" yaml:"worktrees"`
	Agents      string `json:"agents" yaml:"agents"`
	DB          string `json:"db" yaml:"db"`
}

// EffectiveConfigAgent describes the agent executor
type EffectiveConfigAgent struct {
	Type          string `json:"type" yaml:"type"`
	Bin           string `json:"bin" yaml:"bin"`
	TimeoutSec    int    `json:"timeout_sec" yaml:"timeout_sec"`
	StandardModel string `json:"standard_model" yaml:"standard_model"`
	ElevatedModel string `json:"elevated_model" yaml:"elevated_model"`
	DefaultTier   string `json:"default_model_tier" yaml:"default_model_tier"`
	Family        string `json:"family" yaml:"family"`
}

// EffectiveConfigRetry is the retry policy with durations rendered as text
type EffectiveConfigRetry struct {
	MaxAttempts   int      `json:"max_attempts" yaml:"max_attempts"`
	Delays        []string `json:"delays" yaml:"delays"`
	TimeoutDelays []string `json:"timeout_delays" yaml:"timeout_delays"`
}

// EffectiveConfigReview holds review and artifact settings
type EffectiveConfigReview struct {
	MaxCycles       int    `json:"max_cycles" yaml:"max_cycles"`
	PlanPattern     string `json:"plan_artifact_pattern" yaml:"plan_artifact_pattern"`
	DocsPattern     string `json:"docs_artifact_pattern" yaml:"docs_artifact_pattern"`
	LockTTLSec      int    `json:"lock_ttl_sec" yaml:"lock_ttl_sec"`
	MetricsTextfile string `json:"metrics_file,omitempty" yaml:"metrics_file,omitempty"`
}

// EffectiveConfigLogging represents logging configuration
type EffectiveConfigLogging struct {
	StderrLevel string `json:"stderr_level" yaml:"stderr_level"`
}

// BuildEffectiveConfig projects cfg onto its serializable form
func BuildEffectiveConfig(cfg config.Config) EffectiveConfig {
	retry := cfg.Retry()
	return EffectiveConfig{
		Meta: EffectiveConfigMeta{
			Source:      cfg.ConfigSource(),
			SettingPath: cfg.SettingPath(),
			Version:     buildinfo.GetVersion(),
			TsUTC:       time.Now().UTC().Format(time.RFC3339),
		},
		Paths: EffectiveConfigPaths{
			Home:        cfg.Home(),
			RepoRoot:    cfg.RepoRoot(),
			TrunkBranch: cfg.TrunkBranch(),
			Worktrees:   cfg.WorktreesRoot(),
			Agents:      cfg.AgentsRoot(),
			DB:          cfg.DBPath(),
		},
		Agent: EffectiveConfigAgent{
			Type:          cfg.AgentType(),
			Bin:           cfg.AgentBin(),
			TimeoutSec:    int(cfg.Timeout() / time.Second),
			StandardModel: cfg.Model(model.ModelTierStandard),
			ElevatedModel: cfg.Model(model.ModelTierElevated),
			DefaultTier:   string(cfg.DefaultModelTier()),
			Family:        string(cfg.Family()),
		},
		Ports: cfg.Ports(),
		Retry: EffectiveConfigRetry{
			MaxAttempts:   retry.MaxAttempts,
			Delays:        durationStrings(retry.Delays),
			TimeoutDelays: durationStrings(retry.TimeoutDelays),
		},
		Test: cfg.Test(),
		Review: EffectiveConfigReview{
			MaxCycles:       cfg.MaxReviewCycles(),
			PlanPattern:     cfg.PlanArtifactPattern(),
			DocsPattern:     cfg.DocsArtifactPattern(),
			LockTTLSec:      int(cfg.LockTTL() / time.Second),
			MetricsTextfile: cfg.MetricsFile(),
		},
		GitHub:  cfg.GitHub(),
		Archive: cfg.Archive(),
		Logging: EffectiveConfigLogging{StderrLevel: cfg.StderrLevel()},
	}
}

func durationStrings(ds []time.Duration) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.String())
	}
	return out
}

// writeEffectiveConfig renders cfg as YAML or JSON
func writeEffectiveConfig(w io.Writer, cfg config.Config, format string) error {
	ec := BuildEffectiveConfig(cfg)
	switch format {
	case "json":
		return writeJSON(w, ec)
	case "yaml", "":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(ec); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		if err := enc.Close(); err != nil {
			return err
		}
		_, err := w.Write(buf.Bytes())
		return err
	default:
		return fmt.Errorf("unknown format %q (expected yaml or json)", format)
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the asw configuration",
	}

	var format string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeEffectiveConfig(cmd.OutOrStdout(), globalConfig, format)
		},
	}
	show.Flags().StringVar(&format, "format", "yaml", "output format: yaml or json")

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default setting.yaml into the home directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := filepath.Join(globalConfig.Home(), infraConfig.SettingFile)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("failed to create home directory: %w", err)
			}
			if err := os.WriteFile(path, infraConfig.CreateDefaultSettings(), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing setting.yaml")

	cmd.AddCommand(show, initCmd)
	return cmd
}

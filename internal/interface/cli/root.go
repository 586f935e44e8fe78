package cli

import (
	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/asw/internal/app"
	"github.com/YoshitsuguKoike/asw/internal/app/config"
	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
	infraConfig "github.com/YoshitsuguKoike/asw/internal/infra/config"
	"github.com/YoshitsuguKoike/asw/internal/interface/cli/version"
)

// annotationSkipConfig marks commands that run without loading setting.yaml
const annotationSkipConfig = "asw/skip-config"

var (
	// globalConfig holds the loaded configuration for all commands
	globalConfig config.Config
	// appLogger is the app-layer view of the CLI logger
	appLogger app.Logger = app.NopLogger{}
)

type rootFlags struct {
	home     string
	logLevel string
}

func NewRoot() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:           "asw",
		Short:         "Agentic software workflow orchestrator",
		Long:          "asw drives an issue through plan, build, test, review, document and ship phases in an isolated git worktree.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			if flags.logLevel != "" {
				if _, err := ParseLogLevel(flags.logLevel); err != nil {
					return execution.Wrap(execution.ErrPreconditionFailed, "--log-level: %v", err)
				}
			}
			if c.Annotations[annotationSkipConfig] == "true" {
				InitGlobalLogger(flags.logLevel)
				appLogger = GetLogger()
				return nil
			}

			// Priority: environment > setting.yaml > defaults
			cfg, err := infraConfig.Load(flags.home)
			if err != nil {
				return configError{err: err}
			}
			globalConfig = cfg

			level := flags.logLevel
			if level == "" {
				level = cfg.StderrLevel()
			}
			InitGlobalLogger(level)
			appLogger = GetLogger()
			appLogger.Debug("config source=%s path=%s", cfg.ConfigSource(), cfg.SettingPath())
			return nil
		},
		RunE: func(c *cobra.Command, _ []string) error { return c.Help() },
	}

	cmd.PersistentFlags().StringVar(&flags.home, "home", "", "asw home directory (default $ASW_HOME or .asw)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "stderr log level: debug, info, warn, error")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newPatchCmd())
	cmd.AddCommand(newPhaseCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newCleanupCmd())
	cmd.AddCommand(newPortsCmd())
	cmd.AddCommand(newLockCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newIsBotCmd())

	versionCmd := version.NewCommand()
	versionCmd.Annotations = map[string]string{annotationSkipConfig: "true"}
	cmd.AddCommand(versionCmd)
	return cmd
}

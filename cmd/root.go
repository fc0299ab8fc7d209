package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/courier/internal/app"
	"github.com/zjrosen/courier/internal/config"
	"github.com/zjrosen/courier/internal/log"
)

func init() {
	// Force lipgloss/termenv to query terminal background color BEFORE
	// any Bubble Tea program starts. This prevents the terminal's OSC 11
	// response from racing with Bubble Tea's input loop and appearing as
	// garbage text in input fields.
	//
	// See: https://github.com/charmbracelet/bubbletea/issues/1036
	_ = lipgloss.HasDarkBackground()
}

// localConfigPath is checked before the user config directory.
const localConfigPath = ".courier/config.yaml"

var (
	version   = "dev"
	cfgFile   string
	cfg       config.Config
	cfgErr    error
	closeLogs = func() {}
)

var rootCmd = &cobra.Command{
	Use:   "courier",
	Short: "A terminal API client workbench",
	Long: `Courier keeps your open requests, collections and runs in tabs.

Tabs and unsaved drafts are restored per workspace, and every run streams
its events into the tab that started it.`,
	Version:           version,
	PersistentPreRunE: setup,
	RunE:              runApp,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/courier/config.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "write debug logs to log_path")
	rootCmd.PersistentFlags().StringP("workspace", "w", "", "workspace to restore")
	rootCmd.PersistentFlags().Bool("ephemeral", false, "keep the session in memory only")
	rootCmd.PersistentFlags().String("data-dir", "", "directory holding the session database")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("ephemeral", rootCmd.PersistentFlags().Lookup("ephemeral"))
	_ = viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
}

func initConfig() {
	cfg, cfgErr = loadConfig(viper.GetViper(), cfgFile)
}

// setDefaults registers every config key so env overrides and Unmarshal see
// them even when the file omits them.
func setDefaults(v *viper.Viper) {
	d := config.Defaults()
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("workspace", d.Workspace)
	v.SetDefault("debug", d.Debug)
	v.SetDefault("log_path", d.LogPath)
	v.SetDefault("ephemeral", d.Ephemeral)
	v.SetDefault("autosave.debounce", d.Autosave.Debounce)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.cleanup_interval", d.Cache.CleanupInterval)
	v.SetDefault("watcher.enabled", d.Watcher.Enabled)
	v.SetDefault("watcher.debounce", d.Watcher.Debounce)
	v.SetDefault("execution.global_log_size", d.Execution.GlobalLogSize)
	v.SetDefault("execution.step_delay", d.Execution.StepDelay)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// loadConfig resolves the configuration from defaults, the config file and
// COURIER_* environment variables, in increasing precedence. Bound flags
// take precedence over all of them.
func loadConfig(v *viper.Viper, file string) (config.Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("courier")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		// Config lookup order:
		// 1. .courier/config.yaml (current directory)
		// 2. ~/.config/courier/config.yaml (user config)
		if _, err := os.Stat(localConfigPath); err == nil {
			v.SetConfigFile(localConfigPath)
		} else {
			home, _ := os.UserHomeDir()
			v.AddConfigPath(filepath.Join(home, ".config", "courier"))
			v.SetConfigName("config")
			v.SetConfigType("yaml")
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config.Config{}, fmt.Errorf("reading config: %w", err)
		}
		// No config file anywhere: defaults and env still apply.
	}

	var c config.Config
	if err := v.Unmarshal(&c); err != nil {
		return config.Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return c, nil
}

// configPath returns the file workspace changes are written to.
func configPath() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return localConfigPath
	}
	return filepath.Join(home, ".config", "courier", "config.yaml")
}

func setup(cmd *cobra.Command, args []string) error {
	if cfgErr != nil {
		return cfgErr
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Debug {
		cleanup, err := log.Init(cfg.LogPath)
		if err != nil {
			return fmt.Errorf("opening debug log: %w", err)
		}
		closeLogs = cleanup
	}
	return nil
}

// openWorkbench builds and starts a workbench for one command invocation.
// The returned close function flushes pending writes.
func openWorkbench(ctx context.Context, c config.Config, opts ...app.Option) (*app.Workbench, func() error, error) {
	wb, err := app.New(c, opts...)
	if err != nil {
		return nil, nil, err
	}
	if err := wb.Start(ctx); err != nil {
		_ = wb.Close(context.WithoutCancel(ctx))
		return nil, nil, fmt.Errorf("starting workspace %s: %w", c.Workspace, err)
	}
	return wb, func() error { return wb.Close(context.WithoutCancel(ctx)) }, nil
}

func runApp(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	wb, closeWB, err := openWorkbench(ctx, cfg)
	if err != nil {
		return err
	}

	model := app.NewModel(ctx, wb)
	p := tea.NewProgram(
		&model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)

	_, err = p.Run()

	if closeErr := closeWB(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("running program: %w", err)
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	defer func() { closeLogs() }()
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

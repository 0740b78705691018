// Package cmd wires the configuration, scanner registry, orchestrator, and
// reporting together behind the scangate command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/scangate/scangate/internal/config"
	"github.com/scangate/scangate/internal/data/db"
	"github.com/scangate/scangate/internal/executor"
	"github.com/scangate/scangate/internal/log"
	"github.com/scangate/scangate/internal/metrics"
	"github.com/scangate/scangate/pkg/adapter"
	"github.com/scangate/scangate/pkg/dedup"
	"github.com/scangate/scangate/pkg/orchestrate"
	"github.com/scangate/scangate/pkg/registry"
	"github.com/scangate/scangate/pkg/report"
	"github.com/scangate/scangate/pkg/types"
	"github.com/scangate/scangate/pkg/verdict"
)

// errFlagRetrieval is the error message for when a flag cannot be retrieved.
var errFlagRetrieval = errors.New("error getting flag")

// errRequiredFlagEmpty is the error message for a required flag that is empty.
var errRequiredFlagEmpty = errors.New("is required and cannot be empty")

// metricsPrefix namespaces the engine's prometheus metrics.
const metricsPrefix = "scangate"

// knownScanners are the scanner ids this build can run.
var knownScanners = []string{
	adapter.BanditID,
	adapter.OSVScannerID,
	adapter.SonarQubeID,
	adapter.TrivyID,
}

// subprocessBinaries maps subprocess scanner ids to the binary they invoke.
var subprocessBinaries = map[string]string{
	adapter.BanditID:     "bandit",
	adapter.OSVScannerID: "osv-scanner",
	adapter.TrivyID:      "trivy",
}

// exitCodeError carries a nonzero process exit code out of RunE. The exit
// contract is 0 passed, 1 gate breached, 2 the pipeline itself broke.
type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string { return e.msg }

// Execute is the main entry point for the gating engine.
func Execute(args []string) {
	rootCmd := newRootCmd()
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("{{.Version}}\n")
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		// Configuration and orchestration failures share the same code:
		// the run produced no trustworthy verdict.
		os.Exit(verdict.ExitOrchestrationError)
	}
}

// newRootCmd creates the root command for the gating engine.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "scangate",
		Short:        "Scangate runs multiple security scanners and gates on the merged findings.",
		Long:         "Scangate runs bandit, trivy, osv-scanner and SonarQube concurrently against a target, merges their findings into one deduplicated set, and fails the run when any finding reaches the gating severity.",
		RunE:         runScan,
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			requiredFlags := []string{"config"}
			for _, flag := range requiredFlags {
				value, err := cmd.Flags().GetString(flag)
				if err != nil {
					return fmt.Errorf("%w: %s: %w", errFlagRetrieval, flag, err)
				}
				if value == "" {
					return fmt.Errorf("%s %w", flag, errRequiredFlagEmpty)
				}
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "scangate.yaml", "Path to the run configuration file")
	rootCmd.PersistentFlags().StringP("target", "p", "", "Target path to scan, overriding the configured one")
	rootCmd.PersistentFlags().StringP("output-format", "t", "console", "Output format for results. options: console|json|csv|sarif")
	rootCmd.PersistentFlags().StringP("output-file", "f", "", "Output file for results")
	rootCmd.PersistentFlags().StringP("store-db", "d", "", "Path to a sqlite database recording the run. Empty disables persistence")

	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// runScan is the main entry point for one gated run.
func runScan(cmd *cobra.Command, _ []string) error {
	ctx := metrics.WithMetrics(cmd.Context(), metricsPrefix)
	logger := log.NewLogger(ctx)

	configPath, _ := cmd.Flags().GetString("config")          //nolint:errcheck
	targetFlag, _ := cmd.Flags().GetString("target")          //nolint:errcheck
	outputFormat, _ := cmd.Flags().GetString("output-format") //nolint:errcheck
	outputFile, _ := cmd.Flags().GetString("output-file")     //nolint:errcheck
	storeDB, _ := cmd.Flags().GetString("store-db")           //nolint:errcheck

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if targetFlag != "" {
		cfg.Target = targetFlag
	}
	if err := cfg.Validate(knownScanners); err != nil {
		return err
	}
	if err := preflight(cfg); err != nil {
		return err
	}

	reg, skipped, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}
	// A required scanner that never made it into the registry can neither
	// succeed nor fail; reject the configuration before orchestration.
	for _, id := range cfg.Gating.Required {
		if _, ok := reg.Get(id); !ok {
			return &config.ConfigurationError{Problems: []string{
				fmt.Sprintf("required scanner %q has no runnable configuration", id),
			}}
		}
	}

	orch := orchestrate.New(reg, orchestrate.Options{
		MaxParallelism: cfg.Orchestrator.MaxParallelism,
		GlobalTimeout:  cfg.Orchestrator.GlobalTimeout.Std(config.DefaultGlobalTimeout),
		AdapterTimeout: cfg.Orchestrator.AdapterTimeout.Std(config.DefaultAdapterTimeout),
		RetryCount:     cfg.Orchestrator.Retries(),
		Required:       cfg.Gating.Required,
		FailFast:       cfg.Orchestrator.FailFast,
	})
	outcome := orch.Run(ctx, cfg.Target)

	results := outcome.Results
	for _, id := range skipped {
		results = append(results, adapter.SkippedResult(id, "disabled in configuration"))
	}

	norm := dedup.Normalize(results)
	v := verdict.Build(norm, results, verdict.Policy{
		Threshold: cfg.Gating.Threshold,
		Required:  cfg.Gating.Required,
	})

	if err := writeReport(cmd.OutOrStdout(), outputFormat, outputFile, v); err != nil {
		return err
	}

	if storeDB != "" {
		if err := storeRun(ctx, storeDB, cfg.Target, v); err != nil {
			return err
		}
	}

	if code := verdict.ExitCode(v); code != verdict.ExitPassed {
		return &exitCodeError{code: code, msg: verdictFailure(v)}
	}
	return nil
}

// preflight fails fast when a required subprocess scanner's binary is not on
// PATH. Optional scanners are left to fail at run time so one missing tool
// does not block the rest of the run.
func preflight(cfg *config.Config) error {
	required := make(map[string]bool, len(cfg.Gating.Required))
	for _, id := range cfg.Gating.Required {
		required[id] = true
	}
	for id, binary := range subprocessBinaries {
		if !required[id] {
			continue
		}
		if _, err := exec.LookPath(binary); err != nil {
			return fmt.Errorf("%s is not installed: %w", binary, err)
		}
	}
	return nil
}

// buildRegistry constructs one adapter per configured scanner. The second
// return value lists scanners that are configured but excluded from this run;
// they still appear in the verdict as SKIPPED.
func buildRegistry(cfg *config.Config, logger types.Logger) (*registry.Registry, []string, error) {
	reg := registry.New()
	cmdExecutor := executor.NewCommandExecutor()

	for id := range subprocessBinaries {
		sc := cfg.Scanners[id]
		settings := adapter.Settings{
			Args:              sc.Args,
			SeverityOverrides: sc.SeverityMap,
		}
		ad, err := newSubprocessAdapter(id, cmdExecutor, logger, settings)
		if err != nil {
			return nil, nil, err
		}
		if err := reg.Register(ad); err != nil {
			return nil, nil, err
		}
		if !sc.IsEnabled() {
			reg.Disable(id)
		}
	}

	// The quality-server adapter participates only when a server is
	// configured; there is no useful default URL.
	if sc, ok := cfg.Scanners[adapter.SonarQubeID]; ok {
		if !sc.IsEnabled() {
			return reg, append(reg.Disabled(), adapter.SonarQubeID), nil
		}
		settings := adapter.Settings{
			SeverityOverrides: sc.SeverityMap,
			URL:               sc.URL,
			ProjectKey:        sc.ProjectKey,
			Token:             os.Getenv(sc.TokenEnv),
		}
		client := types.NewRealHTTPClient(cfg.Orchestrator.AdapterTimeout.Std(config.DefaultAdapterTimeout))
		ad, err := adapter.NewSonarQubeAdapter(client, logger, settings)
		if err != nil {
			return nil, nil, err
		}
		if err := reg.Register(ad); err != nil {
			return nil, nil, err
		}
	}

	return reg, reg.Disabled(), nil
}

func newSubprocessAdapter(id string, cmdExecutor types.CommandExecutor, logger types.Logger,
	settings adapter.Settings) (adapter.Adapter, error) {
	switch id {
	case adapter.BanditID:
		return adapter.NewBanditAdapter(cmdExecutor, logger, settings)
	case adapter.OSVScannerID:
		return adapter.NewOSVAdapter(cmdExecutor, logger, settings)
	case adapter.TrivyID:
		return adapter.NewTrivyAdapter(cmdExecutor, logger, settings)
	default:
		return nil, fmt.Errorf("unknown subprocess scanner %q", id)
	}
}

// writeReport renders the verdict in the selected format to the output file,
// or to stdout when none is given.
func writeReport(stdout io.Writer, format, outputFile string, v *types.Verdict) error {
	output := stdout
	if outputFile != "" {
		f, err := os.OpenFile(outputFile, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o600)
		if err != nil {
			return fmt.Errorf("error creating output file: %w", err)
		}
		defer f.Close()
		output = f
	}

	switch format {
	case "console":
		return report.WriteConsole(output, v)
	case "json":
		return report.WriteJSON(output, v)
	case "csv":
		return report.WriteCSV(output, v, true)
	case "sarif":
		return report.WriteSARIF(output, v, Version)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// storeRun records the verdict in a local sqlite database.
func storeRun(ctx context.Context, path, target string, v *types.Verdict) error {
	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("error opening run database: %w", err)
	}
	manager, err := db.NewGormRunManager(conn)
	if err != nil {
		return err
	}
	return manager.InsertRun(ctx, target, v)
}

// verdictFailure renders the one-line reason the run did not pass.
func verdictFailure(v *types.Verdict) string {
	if v.RequiredFailed {
		return "required scanner did not complete"
	}
	return fmt.Sprintf("findings at or above %s", v.GatingSeverity)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/core"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/crawlers"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/models"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/utils"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// command line flags
var (
	configFile   string
	logLevel     string
	visual       bool
	cities       []string
	years        []string
	months       []string
	workers      int
	dataDir      string
	progressFile string

	consolidateCity string
	consolidateYear string
)

// appConfig loaded once by PersistentPreRunE
var appConfig *core.Config

var rootCmd = &cobra.Command{
	Use:   "royalties",
	Short: "Extract petroleum royalty payments from municipal transparency portals",
	Long: `royalties walks the payment listings of Sergipe municipal transparency
portals, keeps the payments funded by petroleum royalties and writes one CSV per
(city, year, month) plus a consolidated CSV per (city, year).

Examples:
  royalties --city aracaju --year 2023
  royalties --city pacatuba --year 2022 --year 2023 --workers 4
  royalties --city aracaju --year 2024 --month 1 --month 2 --visual
  royalties plan --year 2023
  royalties consolidate --city aracaju --year 2023

Version: ` + Version + `
Build time: ` + BuildTime,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}

		config, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		config.MergeCLIFlags(core.CLIOverrides{
			Cities:       cities,
			Years:        years,
			Months:       months,
			Workers:      workers,
			Visual:       visual,
			DataDir:      dataDir,
			ProgressFile: progressFile,
			LogLevel:     logLevel,
		})
		appConfig = config

		logConfig := config.LogConfig()
		if config.Output.ProgressFile == "" {
			// stdout carries the progress stream
			logConfig.Console = os.Stderr
		}
		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateFlags(years, months, workers); err != nil {
			return err
		}
		if err := appConfig.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		runConfig, err := appConfig.RunConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = utils.Logger.WithContext(ctx)

		var progressOut io.Writer = os.Stdout
		if path := appConfig.Output.ProgressFile; path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return fmt.Errorf("open progress file: %w", err)
			}
			defer f.Close()
			progressOut = f
		}

		runID := models.NewRunID()
		planned := len(core.PlanTasks(runConfig))
		bar := utils.NewProgressBar(planned, "tasks")
		progress := utils.NewProgress(progressOut, runID, planned, bar)

		browser := crawlers.NewBrowser(appConfig.BrowserConfig())
		runner := core.NewRunner(runConfig, core.RunOptions{
			RunID:    runID,
			DataDir:  appConfig.Output.DataDir,
			Engine:   appConfig.EngineConfig(),
			Capacity: crawlers.NewResourceMonitor(crawlers.DefaultResourceMonitorConfig()),
		}, browser, progress)

		utils.Infof("run %s: %d tasks, %d workers", runID, planned, runConfig.Workers)
		summary, err := runner.Run(ctx)
		if err != nil {
			return err
		}
		_ = bar.Finish()
		utils.Infof("%d of %d tasks reported", progress.Completed(), planned)

		fmt.Fprintln(os.Stderr)
		utils.RenderSummary(os.Stderr, summary)

		if path, err := utils.NewReporter(appConfig.Logging.LogDir).SaveRunReport(summary); err != nil {
			utils.Error(err, "run report not saved")
		} else {
			utils.Infof("run report: %s", path)
		}
		if ctx.Err() != nil {
			utils.Warn("run interrupted, remaining tasks were cancelled")
		}
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the tasks a run would execute",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateFlags(years, months, workers); err != nil {
			return err
		}
		if err := appConfig.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		runConfig, err := appConfig.RunConfig()
		if err != nil {
			return err
		}
		utils.RenderPlan(cmd.OutOrStdout(), core.PlanTasks(runConfig))
		return nil
	},
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Merge the existing unit files of one city and year",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := utils.ValidateName(consolidateCity); err != nil {
			return fmt.Errorf("invalid --city: %w", err)
		}
		if err := ValidateFlags([]string{consolidateYear}, nil, 0); err != nil {
			return err
		}

		ctx := utils.Logger.WithContext(context.Background())
		result, err := core.NewConsolidator(appConfig.Output.DataDir).Consolidate(ctx, consolidateCity, consolidateYear)
		if err != nil {
			return err
		}
		if result.Path == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "nothing to consolidate for %s %s\n", consolidateCity, consolidateYear)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records from %d files (%d skipped)\n",
			result.Path, result.Records, result.Files, len(result.Skipped))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("royalties %s\n", Version)
		fmt.Printf("build time: %s\n", BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file (default configs/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "output folder of unit and consolidated files")

	for _, cmd := range []*cobra.Command{rootCmd, planCmd} {
		cmd.Flags().StringSliceVar(&cities, "city", nil, "city to extract, repeatable (default all configured)")
		cmd.Flags().StringSliceVar(&years, "year", nil, "year to extract, repeatable")
		cmd.Flags().StringSliceVar(&months, "month", nil, "month 1..12, repeatable (default all)")
		cmd.Flags().IntVarP(&workers, "workers", "w", 0, "parallel browser sessions (1-12)")
	}
	rootCmd.Flags().BoolVar(&visual, "visual", false, "show the browser window")
	rootCmd.Flags().StringVar(&progressFile, "progress-file", "", "write progress lines to this file instead of stdout")

	consolidateCmd.Flags().StringVar(&consolidateCity, "city", "", "city folder to consolidate")
	consolidateCmd.Flags().StringVar(&consolidateYear, "year", "", "year to consolidate")
	_ = consolidateCmd.MarkFlagRequired("city")
	_ = consolidateCmd.MarkFlagRequired("year")

	rootCmd.AddCommand(planCmd, consolidateCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/goyek/goyek/v2"
	"github.com/goyek/goyek/v2/middleware"

	"github.com/spachava753/assetpipe/internal/executor"
	"github.com/spachava753/assetpipe/internal/models"
	"github.com/spachava753/assetpipe/internal/obs"
)

var (
	configPath = flag.String("config", "", "path to assetpipe.yaml or assetpipe.toml (default: probe the working directory)")
	verbose    = flag.Bool("v", false, "log at debug level")
)

var watch = goyek.Define(goyek.Task{
	Name:  "watch",
	Usage: "Serve the source tree and rebuild on change",
	Action: func(a *goyek.A) {
		cfg, ok := load(a)
		if !ok {
			return
		}
		o, err := executor.NewDevOrchestrator(cfg)
		if err != nil {
			a.Error(err)
			return
		}
		if err := o.Run(a.Context()); err != nil {
			slog.Error("watch failed", "error", err)
			a.Error(err)
		}
	},
})

var build = goyek.Define(goyek.Task{
	Name:  "build",
	Usage: "Produce the production output tree",
	Action: func(a *goyek.A) {
		cfg, ok := load(a)
		if !ok {
			return
		}
		o, err := executor.NewBuildOrchestrator(cfg)
		if err != nil {
			a.Error(err)
			return
		}
		result, err := o.Run(a.Context())
		if result != nil {
			printSummary(result)
		}
		if err != nil {
			slog.Error("build failed", "error", err)
			a.Error(err)
		}
	},
})

func load(a *goyek.A) (models.Config, bool) {
	cfg, err := executor.LoadConfig(*configPath)
	if err != nil {
		a.Error(err)
		return cfg, false
	}
	level := obs.ParseLevel(cfg.LogLevel)
	if *verbose {
		level = slog.LevelDebug
	}
	obs.SetupLogger(os.Stderr, level)
	obs.Init()
	return cfg, true
}

func printSummary(result *models.BuildResult) {
	fmt.Printf("\nOrder: %v\n", result.ExecutionOrder)
	for _, t := range result.Tasks {
		fmt.Printf("%-12s read %3d  wrote %3d  errors %d  (%s)\n", t.Task, t.FilesRead, len(t.FilesWritten), len(t.Errors), t.Duration.Round(1e6))
	}
	fmt.Printf("Duration: %.2fs\n", result.DurationSec)
}

func main() {
	obs.SetupLogger(os.Stderr, slog.LevelInfo)

	flag.CommandLine.SetOutput(goyek.Output())
	flag.Usage = func() {
		fmt.Fprintln(goyek.Output(), "Usage: assetpipe [flags] [--] [watch|build]")
		goyek.Print()
		fmt.Fprintln(goyek.Output(), "Flags:")
		flag.PrintDefaults()
	}
	flag.Parse()

	goyek.SetDefault(watch)
	goyek.Use(middleware.ReportStatus)
	goyek.Main(flag.Args())
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/core"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/crawlers"
)

func main() {
	fmt.Println("==============================================")
	fmt.Println("  royalties environment check")
	fmt.Println("==============================================")
	fmt.Println()

	allOK := true

	goVersion := runtime.Version()
	fmt.Printf("✅ Go: %s\n", goVersion)
	if !strings.HasPrefix(goVersion, "go1.23") && !strings.HasPrefix(goVersion, "go1.24") {
		fmt.Println("⚠️  Go 1.23+ recommended")
	}
	fmt.Printf("✅ OS: %s/%s\n", runtime.GOOS, runtime.GOARCH)

	// browser
	if bin, ok := launcher.LookPath(); ok {
		fmt.Printf("✅ browser found: %s\n", bin)
	} else {
		fmt.Println("⚠️  no local Chrome/Chromium - it will be downloaded on the first run")
	}

	// capacity
	monitor := crawlers.NewResourceMonitor(crawlers.DefaultResourceMonitorConfig())
	if n, err := monitor.MaxSessions(); err != nil {
		fmt.Printf("⚠️  memory check failed: %v\n", err)
	} else {
		fmt.Printf("✅ recommended max workers: %d\n", n)
	}

	// configuration
	fmt.Println()
	fmt.Println("checking configuration...")
	config, err := core.LoadConfig("")
	if err != nil {
		fmt.Printf("❌ configuration: %v\n", err)
		allOK = false
	} else {
		fmt.Printf("✅ %d cities configured\n", len(config.Cities))
		if len(config.Run.Years) == 0 {
			fmt.Println("⚠️  no run.years set - pass --year on the command line")
		} else if err := config.Validate(); err != nil {
			fmt.Printf("❌ configuration invalid: %v\n", err)
			allOK = false
		} else {
			fmt.Println("✅ configuration valid")
		}

		if err := checkWritable(config.Output.DataDir); err != nil {
			fmt.Printf("❌ data dir %s: %v\n", config.Output.DataDir, err)
			allOK = false
		} else {
			fmt.Printf("✅ data dir writable: %s\n", config.Output.DataDir)
		}
	}

	fmt.Println()
	fmt.Println("checking project layout...")
	for _, dir := range []string{"cmd/royalties", "internal/core", "internal/crawlers", "internal/classify", "configs"} {
		if _, err := os.Stat(dir); err == nil {
			fmt.Printf("✅ %s/\n", dir)
		} else {
			fmt.Printf("❌ %s/ missing\n", dir)
			allOK = false
		}
	}

	fmt.Println()
	fmt.Println("==============================================")
	if allOK {
		fmt.Println("✅ environment ready")
		fmt.Println()
		fmt.Println("next:")
		fmt.Println("  go run ./cmd/royalties plan --year 2024")
		fmt.Println("  go run ./cmd/royalties --city aracaju --year 2024")
		os.Exit(0)
	}
	fmt.Println("❌ environment check failed, fix the items above")
	os.Exit(1)
}

// checkWritable creates dir if needed and writes a probe file
func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".write_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return err
	}
	return os.Remove(probe)
}

// Package cli implements the peanutgallery CLI commands.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mwatts/peanutgallery/internal/cache"
	"github.com/mwatts/peanutgallery/internal/llm"
	"github.com/mwatts/peanutgallery/internal/logging"
	"github.com/mwatts/peanutgallery/internal/orchestrator"
	"github.com/mwatts/peanutgallery/internal/persona"
	"github.com/mwatts/peanutgallery/internal/profiling"
	"github.com/mwatts/peanutgallery/internal/scene"
)

var (
	dbPath    string
	rosterDir string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "peanutgallery",
	Short: "Virtual-audience reaction engine for subtitle streams",
	Long:  "Generates, caches, and schedules persona reactions to subtitle cues. Replay captured sessions, inspect the reaction cache, and browse persona rosters.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Cache database path (default: $PEANUTGALLERY_DB or ~/.peanutgallery/comments.db)")
	RootCmd.PersistentFlags().StringVar(&rosterDir, "rosters", "", "Directory of extra roster YAML files (default: $PEANUTGALLERY_ROSTERS)")
}

func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	if env := os.Getenv("PEANUTGALLERY_DB"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".peanutgallery", "comments.db")
}

func openStore() (*cache.Store, error) {
	return cache.Open(getDBPath())
}

func loadRegistry() (*persona.Registry, error) {
	rosters := persona.BuiltinRosters()
	dir := rosterDir
	if dir == "" {
		dir = os.Getenv("PEANUTGALLERY_ROSTERS")
	}
	if dir != "" {
		extra, err := persona.LoadDir(dir)
		if err != nil {
			return nil, err
		}
		rosters = append(rosters, extra...)
	}
	return persona.NewRegistry(rosters)
}

// buildEngine wires a full engine from the environment: analyzer,
// sqlite cache, completion client, and the persona registry.
func buildEngine(variant string) (*orchestrator.Engine, *cache.Store, error) {
	store, err := openStore()
	if err != nil {
		return nil, nil, fmt.Errorf("open cache: %w", err)
	}

	registry, err := loadRegistry()
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("load rosters: %w", err)
	}
	if variant != "" {
		if err := registry.SetVariant(variant); err != nil {
			store.Close()
			return nil, nil, err
		}
	}

	client := llm.NewClient(llm.Config{
		BaseURL: os.Getenv("OPENAI_BASE_URL"),
		APIKey:  os.Getenv("OPENAI_API_KEY"),
		Model:   os.Getenv("PEANUTGALLERY_MODEL"),
	})

	opts := []orchestrator.Option{}
	if sampler, err := profiling.NewProcessSampler(); err == nil {
		opts = append(opts, orchestrator.WithProcessStats(sampler))
	} else {
		logging.Debug("cli", "process sampler unavailable: %v", err)
	}

	engine := orchestrator.NewEngine(scene.NewAnalyzer(), store, client, registry, opts...)
	return engine, store, nil
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

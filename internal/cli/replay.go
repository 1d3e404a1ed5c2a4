package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mwatts/peanutgallery/internal/replay"
	"github.com/mwatts/peanutgallery/internal/types"
)

var (
	replayDensity string
	replayVariant string
	replayDev     bool
)

func init() {
	cmd := &cobra.Command{
		Use:   "replay <session.jsonl>",
		Short: "Run a captured session through the engine and report the output",
		Args:  cobra.ExactArgs(1),
		Run:   runReplay,
	}
	cmd.Flags().StringVar(&replayDensity, "density", "medium", "Reaction density: low, medium, or high")
	cmd.Flags().StringVar(&replayVariant, "variant", "", "Roster variant to activate")
	cmd.Flags().BoolVar(&replayDev, "dev", false, "Include developer-mode metrics")

	RootCmd.AddCommand(cmd)
}

func runReplay(cmd *cobra.Command, args []string) {
	events, err := replay.ReadSession(args[0])
	if err != nil {
		exitErr("read session", err)
	}

	engine, store, err := buildEngine(replayVariant)
	if err != nil {
		exitErr("build engine", err)
	}
	defer store.Close()

	prefs := types.UserPreferences{
		GlobalEnabled: true,
		Density:       types.Density(replayDensity),
		DeveloperMode: replayDev,
	}
	summary := replay.Run(cmd.Context(), engine, events, prefs)

	b, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(b))
}

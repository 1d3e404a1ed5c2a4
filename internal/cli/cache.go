package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the reaction cache",
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show per-title cache sizes",
		Run:   runCacheStats,
	})
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear [content-id]",
		Short: "Clear the whole cache, or one title's entries",
		Args:  cobra.MaximumNArgs(1),
		Run:   runCacheClear,
	})
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "purge <content-id> <from-ms>",
		Short: "Drop cached reactions at or after a timeline position",
		Args:  cobra.ExactArgs(2),
		Run:   runCachePurge,
	})

	RootCmd.AddCommand(cacheCmd)
}

func runCacheStats(cmd *cobra.Command, args []string) {
	store, err := openStore()
	if err != nil {
		exitErr("open cache", err)
	}
	defer store.Close()

	report, total, err := store.SizeReport(cmd.Context())
	if err != nil {
		exitErr("size report", err)
	}

	out := struct {
		TotalBytes int64       `json:"total_bytes"`
		PerContent interface{} `json:"per_content"`
	}{TotalBytes: total, PerContent: report}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}

func runCacheClear(cmd *cobra.Command, args []string) {
	store, err := openStore()
	if err != nil {
		exitErr("open cache", err)
	}
	defer store.Close()

	if len(args) == 1 {
		n, err := store.ClearContent(cmd.Context(), args[0])
		if err != nil {
			exitErr("clear content", err)
		}
		fmt.Printf("cleared %d entries for %s\n", n, args[0])
		return
	}
	if err := store.ClearAll(cmd.Context()); err != nil {
		exitErr("clear cache", err)
	}
	fmt.Println("cache cleared")
}

func runCachePurge(cmd *cobra.Command, args []string) {
	fromMs, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		exitErr("parse from-ms", err)
	}

	store, err := openStore()
	if err != nil {
		exitErr("open cache", err)
	}
	defer store.Close()

	n, err := store.PurgeFuture(cmd.Context(), args[0], fromMs)
	if err != nil {
		exitErr("purge", err)
	}
	fmt.Printf("purged %d entries for %s from %dms\n", n, args[0], fromMs)
}

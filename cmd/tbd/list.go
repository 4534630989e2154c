package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tbd-org/tbd/internal/idmap"
	"github.com/tbd-org/tbd/internal/storage"
	"github.com/tbd-org/tbd/internal/worktree"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List issues in the local worktree",
	RunE: func(cmd *cobra.Command, _ []string) error {
		statusFilter, _ := cmd.Flags().GetString("status")

		paths, err := resolvePaths()
		if err != nil {
			return err
		}
		mgr, cfg, err := buildManager(paths)
		if err != nil {
			return err
		}

		store := storage.New(filepath.Join(mgr.Path, worktree.DataDir, "issues"))
		issues, warnings, err := store.List(rootCtx)
		if err != nil {
			return err
		}
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
		}

		mapping, _, err := idmap.Load(filepath.Join(mgr.Path, worktree.DataDir, "mappings", "ids.yml"))
		if err != nil {
			return err
		}

		sort.Slice(issues, func(i, j int) bool { return issues[i].ID < issues[j].ID })
		shown := 0
		for _, issue := range issues {
			if statusFilter != "" && string(issue.Status) != statusFilter {
				continue
			}
			label := issue.ID
			if short, ok := mapping.ShortFor(idmap.ULIDOf(issue.ID)); ok {
				label = displayID(cfg.Display.IDPrefix, short)
			}
			fmt.Printf("%-10s %-12s p%d  %s\n", label, issue.Status, issue.Priority, issue.Title)
			shown++
		}
		if shown == 0 {
			fmt.Println("No issues")
		}
		return nil
	},
}

func init() {
	listCmd.Flags().String("status", "", "filter by status (open, in_progress, blocked, deferred, closed)")
	rootCmd.AddCommand(listCmd)
}

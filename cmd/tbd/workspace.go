package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbd-org/tbd/internal/idmap"
	"github.com/tbd-org/tbd/internal/record"
	"github.com/tbd-org/tbd/internal/storage"
	"github.com/tbd-org/tbd/internal/sync"
	"github.com/tbd-org/tbd/internal/workspace"
	"github.com/tbd-org/tbd/internal/worktree"
)

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	Short:   "Stage, back up, and recover issues in named workspaces",
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces with status-bucketed issue counts",
	RunE: func(_ *cobra.Command, _ []string) error {
		paths, err := resolvePaths()
		if err != nil {
			return err
		}
		counts, err := workspace.ListWithCounts(rootCtx, paths.WorkspacesDir)
		if err != nil {
			return err
		}
		if len(counts) == 0 {
			fmt.Println("No workspaces")
			return nil
		}
		names := make([]string, 0, len(counts))
		for name := range counts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c := counts[name]
			fmt.Printf("%-20s %d total (%d open, %d in progress, %d closed)\n",
				name, c.Total, c.Open, c.InProgress, c.Closed)
		}
		return nil
	},
}

var workspaceSaveCmd = &cobra.Command{
	Use:   "save <name>",
	Short: "Save local issues into a workspace, merging with what is there",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		updatesOnly, _ := cmd.Flags().GetBool("updates-only")

		paths, err := resolvePaths()
		if err != nil {
			return err
		}
		mgr, _, err := buildManager(paths)
		if err != nil {
			return err
		}

		src := storage.New(filepath.Join(mgr.Path, worktree.DataDir, "issues"))
		mapping, _, err := idmap.Load(filepath.Join(mgr.Path, worktree.DataDir, "mappings", "ids.yml"))
		if err != nil {
			return err
		}

		dst := workspace.New(paths.WorkspacesDir, name)
		opts := workspace.DefaultSaveOptions(name, func(ctx context.Context) ([]*record.Issue, error) {
			return sync.FetchRemoteIssues(ctx, mgr)
		})
		if cmd.Flags().Changed("updates-only") {
			opts.UpdatesOnly = updatesOnly
		}

		if err := workspace.Save(rootCtx, src, mapping, dst, opts, time.Now()); err != nil {
			return err
		}
		fmt.Printf("Saved to workspace %q\n", name)
		return nil
	},
}

var workspaceImportCmd = &cobra.Command{
	Use:   "import <name>",
	Short: "Merge a workspace's issues back into the worktree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		keep, _ := cmd.Flags().GetBool("keep")

		paths, err := resolvePaths()
		if err != nil {
			return err
		}
		mgr, _, err := buildManager(paths)
		if err != nil {
			return err
		}
		if _, err := mgr.Ensure(rootCtx); err != nil {
			return err
		}

		src := workspace.New(paths.WorkspacesDir, name)
		if !src.Exists() {
			return fmt.Errorf("workspace %q does not exist", name)
		}

		dst := storage.New(filepath.Join(mgr.Path, worktree.DataDir, "issues"))
		mappingPath := filepath.Join(mgr.Path, worktree.DataDir, "mappings", "ids.yml")
		atticDir := filepath.Join(mgr.Path, worktree.DataDir, "attic", "conflicts")

		opts := workspace.DefaultImportOptions(name)
		if cmd.Flags().Changed("keep") {
			opts.ClearOnSuccess = !keep
		}

		if err := workspace.Import(rootCtx, src, dst, mappingPath, atticDir, opts, time.Now()); err != nil {
			return err
		}
		fmt.Printf("Imported workspace %q\n", name)
		return nil
	},
}

var workspaceDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		paths, err := resolvePaths()
		if err != nil {
			return err
		}
		ws := workspace.New(paths.WorkspacesDir, args[0])
		if !ws.Exists() {
			return fmt.Errorf("workspace %q does not exist", args[0])
		}
		if err := ws.Delete(); err != nil {
			return err
		}
		fmt.Printf("Deleted workspace %q\n", args[0])
		return nil
	},
}

func init() {
	workspaceSaveCmd.Flags().Bool("updates-only", false, "save only issues new or different from the remote state")
	workspaceImportCmd.Flags().Bool("keep", false, "keep the workspace after a successful import")
	workspaceCmd.AddCommand(workspaceListCmd, workspaceSaveCmd, workspaceImportCmd, workspaceDeleteCmd)
	rootCmd.AddCommand(workspaceCmd)
}

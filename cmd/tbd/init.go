package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tbd-org/tbd/internal/config"
	"github.com/tbd-org/tbd/internal/gitadapter"
	"github.com/tbd-org/tbd/internal/record"
	"github.com/tbd-org/tbd/internal/syncbranch"
	"github.com/tbd-org/tbd/internal/worktree"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize tbd in the current git repository",
	Long: `Initialize tbd: write .tbd/config.yml and set up the auxiliary
worktree on the sync branch. Safe to re-run; an existing configuration is
left untouched.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		prefix, _ := cmd.Flags().GetString("prefix")
		branch, _ := cmd.Flags().GetString("branch")
		remote, _ := cmd.Flags().GetString("remote")

		adapter := gitadapter.New(".")
		if err := adapter.CheckVersion(rootCtx); err != nil {
			return err
		}

		out, err := adapter.Run(rootCtx, ".", "rev-parse", "--show-toplevel")
		if err != nil {
			return fmt.Errorf("not inside a git repository: %w", err)
		}
		root := trimLine(out)

		configPath := filepath.Join(root, config.Dir, config.FileName)
		cfg := record.DefaultConfig()
		if _, err := os.Stat(configPath); err == nil {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = *loaded
		}

		if prefix != "" {
			if err := config.ValidateIDPrefix(prefix); err != nil {
				return err
			}
			cfg.Display.IDPrefix = prefix
		}
		if branch != "" {
			if err := syncbranch.ValidateSyncBranchName(branch); err != nil {
				return err
			}
			cfg.Sync.Branch = branch
		}
		if remote != "" {
			cfg.Sync.Remote = remote
		}

		if err := config.Save(configPath, &cfg); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", configPath)

		mgr := &worktree.Manager{
			Adapter: gitadapter.New(root),
			Path:    filepath.Join(root, worktree.CheckoutDir),
			Branch:  cfg.Sync.Branch,
			Remote:  cfg.Sync.Remote,
		}
		check, err := mgr.Ensure(rootCtx)
		if err != nil {
			return err
		}
		fmt.Printf("Worktree %s on branch %s (%s)\n", check.Health, cfg.Sync.Branch, mgr.Path)
		return nil
	},
}

func init() {
	initCmd.Flags().String("prefix", "", "display id prefix (1-16 lowercase alphanumerics or hyphens)")
	initCmd.Flags().String("branch", "", "sync branch name (default tbd-sync)")
	initCmd.Flags().String("remote", "", "remote name (default origin)")
	rootCmd.AddCommand(initCmd)
}

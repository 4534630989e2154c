package main

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tbd-org/tbd/internal/config"
	"github.com/tbd-org/tbd/internal/idmap"
	"github.com/tbd-org/tbd/internal/storage"
	"github.com/tbd-org/tbd/internal/syncbranch"
	"github.com/tbd-org/tbd/internal/worktree"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the health of the tbd installation",
	Long: `Check the host git version, configuration format, worktree health,
short-id mapping, referential integrity of dependencies, and whether the
remote sync branch history was rewritten. With --fix, repair the worktree,
migrate the configuration, and migrate data written to the wrong location.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		fix, _ := cmd.Flags().GetBool("fix")

		paths, err := resolvePaths()
		if err != nil {
			return err
		}
		mgr, _, err := buildManager(paths)
		if err != nil {
			return err
		}

		failures := 0
		report := func(ok bool, what, detail string) {
			mark := "ok"
			if !ok {
				mark = "FAIL"
				failures++
			}
			fmt.Printf("%-6s %s", mark, what)
			if detail != "" {
				fmt.Printf(": %s", detail)
			}
			fmt.Println()
		}

		if err := mgr.Adapter.CheckVersion(rootCtx); err != nil {
			report(false, "git version", err.Error())
		} else {
			report(true, "git version", "")
		}

		if fix {
			applied, err := config.Migrate(paths.ConfigPath)
			if err != nil {
				report(false, "config format", err.Error())
			} else if len(applied) > 0 {
				for _, s := range applied {
					fmt.Printf("       migrated config: %s\n", s.Description)
				}
				report(true, "config format", "migrated")
			} else {
				report(true, "config format", "")
			}
		} else if _, err := config.Load(paths.ConfigPath); err != nil {
			report(false, "config format", err.Error())
		} else {
			report(true, "config format", "")
		}

		check, err := worktree.Check(rootCtx, mgr.Adapter, mgr.Path)
		if err != nil {
			report(false, "worktree", err.Error())
		} else if check.Health != worktree.Valid && fix {
			if _, err := mgr.Ensure(rootCtx); err != nil {
				report(false, "worktree", fmt.Sprintf("%s, repair failed: %v", check.Health, err))
			} else {
				report(true, "worktree", fmt.Sprintf("%s, repaired", check.Health))
			}
		} else {
			report(check.Health == worktree.Valid, "worktree", check.Health.String())
		}

		if fix {
			migrated, err := mgr.MigrateDataLocation(rootCtx, true)
			if err != nil {
				report(false, "data location", err.Error())
			} else if migrated.FilesMoved > 0 {
				report(true, "data location", fmt.Sprintf("moved %d misplaced file(s) into the worktree", migrated.FilesMoved))
			} else {
				report(true, "data location", "")
			}
		}

		mappingPath := filepath.Join(mgr.Path, worktree.DataDir, "mappings", "ids.yml")
		_, warnings, err := idmap.Load(mappingPath)
		if err != nil {
			report(false, "short-id mapping", err.Error())
		} else {
			for _, w := range warnings {
				fmt.Printf("       mapping: %s\n", w)
			}
			report(len(warnings) == 0, "short-id mapping", fmt.Sprintf("%d duplicate(s)", len(warnings)))
		}

		if missing := checkIntegrity(paths, mgr); len(missing) > 0 {
			sort.Strings(missing)
			for _, m := range missing {
				fmt.Printf("       dangling reference: %s\n", m)
			}
			report(false, "referential integrity", fmt.Sprintf("%d dangling reference(s)", len(missing)))
		} else {
			report(true, "referential integrity", "")
		}

		status, err := syncbranch.CheckForcePush(rootCtx, mgr.Adapter, paths.StatePath, mgr.Remote, mgr.Branch)
		if err != nil {
			report(false, "remote history", err.Error())
		} else {
			report(!status.Detected, "remote history", status.Message)
		}

		if failures > 0 {
			return fmt.Errorf("doctor found %d problem(s)", failures)
		}
		return nil
	},
}

// checkIntegrity verifies that every parent_id and dependency target names
// an issue present in the store. Writes never enforce this; only doctor
// reports it.
func checkIntegrity(paths *projectPaths, mgr *worktree.Manager) []string {
	store := storage.New(filepath.Join(mgr.Path, worktree.DataDir, "issues"))
	issues, _, err := store.List(rootCtx)
	if err != nil {
		return nil
	}

	known := make(map[string]bool, len(issues))
	for _, issue := range issues {
		known[issue.ID] = true
	}

	var missing []string
	for _, issue := range issues {
		if issue.ParentID != nil && !known[*issue.ParentID] {
			missing = append(missing, fmt.Sprintf("%s parent_id -> %s", issue.ID, *issue.ParentID))
		}
		for _, dep := range issue.Dependencies {
			if !known[dep.Target] {
				missing = append(missing, fmt.Sprintf("%s dependency -> %s", issue.ID, dep.Target))
			}
		}
	}
	return missing
}

func init() {
	doctorCmd.Flags().Bool("fix", false, "repair the worktree, migrate the configuration, and move misplaced data")
	rootCmd.AddCommand(doctorCmd)
}

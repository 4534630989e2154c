package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbd-org/tbd/internal/idmap"
	"github.com/tbd-org/tbd/internal/record"
	"github.com/tbd-org/tbd/internal/storage"
	"github.com/tbd-org/tbd/internal/worktree"
)

var createCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a new issue in the local worktree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		priority, _ := cmd.Flags().GetInt("priority")
		description, _ := cmd.Flags().GetString("description")
		assignee, _ := cmd.Flags().GetString("assignee")

		paths, err := resolvePaths()
		if err != nil {
			return err
		}
		mgr, cfg, err := buildManager(paths)
		if err != nil {
			return err
		}
		if _, err := mgr.Ensure(rootCtx); err != nil {
			return err
		}

		now := time.Now().UTC().Truncate(time.Millisecond)
		id, err := record.NewID(cfg.Display.IDPrefix, now)
		if err != nil {
			return err
		}

		issue := &record.Issue{
			Type:      "is",
			ID:        id,
			CreatedAt: now,
			CreatedBy: gitUserName(mgr),
			Version:   1,
			UpdatedAt: now,
			Kind:      record.Kind(kind),
			Title:     args[0],
			Status:    record.StatusOpen,
			Priority:  priority,
			Description: description,
		}
		if assignee != "" {
			issue.Assignee = &assignee
		}
		if err := record.Default()(issue); err != nil {
			return err
		}

		store := storage.New(filepath.Join(mgr.Path, worktree.DataDir, "issues"))
		if err := store.Write(issue); err != nil {
			return err
		}

		mappingPath := filepath.Join(mgr.Path, worktree.DataDir, "mappings", "ids.yml")
		mapping, _, err := idmap.Load(mappingPath)
		if err != nil {
			return err
		}
		short, err := mapping.Allocate(idmap.ULIDOf(id))
		if err != nil {
			return err
		}
		if err := idmap.Save(mappingPath, mapping); err != nil {
			return err
		}

		fmt.Printf("Created %s (%s)\n", displayID(cfg.Display.IDPrefix, short), id)
		return nil
	},
}

// gitUserName reads user.name from the host git config; creation proceeds
// with an empty author if none is set.
func gitUserName(mgr *worktree.Manager) string {
	out, err := mgr.Adapter.Run(rootCtx, mgr.Adapter.RepoDir(), "config", "user.name")
	if err != nil {
		return ""
	}
	return trimLine(out)
}

func displayID(prefix, short string) string {
	if prefix == "" {
		prefix = record.DefaultIDPrefix
	}
	return prefix + "-" + short
}

func init() {
	createCmd.Flags().String("kind", string(record.KindTask), "issue kind (task, epic, bug, chore)")
	createCmd.Flags().Int("priority", 2, "priority (lower is more urgent)")
	createCmd.Flags().String("description", "", "issue description")
	createCmd.Flags().String("assignee", "", "assignee")
	rootCmd.AddCommand(createCmd)
}

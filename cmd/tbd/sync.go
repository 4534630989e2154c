package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tbd-org/tbd/internal/sync"
	"github.com/tbd-org/tbd/internal/syncbranch"
	"github.com/tbd-org/tbd/internal/workspace"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile local issues with the remote sync branch",
	Long: `Reconcile local issues with the remote sync branch:
1. Fetch the remote sync branch
2. Three-way merge every issue present on either side
3. Commit the merged state under an isolated index
4. Push with retry

On a permanent push rejection (branch protection, revoked credentials)
local changes are saved to the 'outbox' workspace for later import.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		noOutboxSave, _ := cmd.Flags().GetBool("no-outbox-save")
		noOutboxImport, _ := cmd.Flags().GetBool("no-outbox-import")
		acceptRebase, _ := cmd.Flags().GetBool("accept-rebase")

		paths, err := resolvePaths()
		if err != nil {
			return err
		}
		mgr, _, err := buildManager(paths)
		if err != nil {
			return err
		}

		status, err := syncbranch.CheckForcePush(rootCtx, mgr.Adapter, paths.StatePath, mgr.Remote, mgr.Branch)
		if err == nil && status.Detected {
			if !acceptRebase {
				return fmt.Errorf("%s\nRe-run with --accept-rebase to accept the rewritten history", status.Message)
			}
			if err := syncbranch.ClearStoredRemoteSHA(paths.StatePath); err != nil {
				return err
			}
			fmt.Println("Accepted rewritten remote history")
		}

		opts := sync.DefaultOptions(paths.WorkspacesDir)
		opts.AutoSaveOutbox = !noOutboxSave
		opts.ImportOutbox = !noOutboxImport

		result, err := sync.Sync(rootCtx, mgr, paths.StatePath, opts)
		if err != nil {
			if result != nil && result.OutboxSaved {
				fmt.Fprintf(os.Stderr, "Push rejected permanently; local changes saved to the %q workspace.\n", workspace.OutboxName)
				fmt.Fprintf(os.Stderr, "They will be imported automatically on the next successful sync.\n")
			}
			return err
		}

		fmt.Printf("Synced %d issues (%d local, %d remote) in %d round(s)\n",
			result.MergedCount, result.LocalCount, result.RemoteCount, result.MergeRounds)
		if result.Conflicts > 0 {
			fmt.Printf("%d field conflict(s) recorded in the attic\n", result.Conflicts)
		}
		if result.OutboxImported {
			fmt.Println("Imported and cleared the outbox workspace")
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("no-outbox-save", false, "do not save to the outbox workspace on a permanent push failure")
	syncCmd.Flags().Bool("no-outbox-import", false, "do not import a pending outbox after a successful sync")
	syncCmd.Flags().Bool("accept-rebase", false, "accept a rewritten remote sync branch history")
	rootCmd.AddCommand(syncCmd)
}

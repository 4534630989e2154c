// Command tbd is a thin wiring layer over the core packages: it resolves
// the repository, loads configuration, and hands control to internal/sync
// and friends. All issue semantics live under internal/.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tbd-org/tbd/internal/config"
	"github.com/tbd-org/tbd/internal/gitadapter"
	"github.com/tbd-org/tbd/internal/record"
	"github.com/tbd-org/tbd/internal/syncbranch"
	"github.com/tbd-org/tbd/internal/synerr"
	"github.com/tbd-org/tbd/internal/worktree"
)

// Exit codes. Permanent push rejections get their own code so scripts can
// react to the outbox fallback.
const (
	exitError         = 1
	exitPushPermanent = 2
)

var rootCtx context.Context

var rootCmd = &cobra.Command{
	Use:   "tbd",
	Short: "Git-backed, offline-first issue tracking",
	Long: `tbd stores issues on a side branch of the host git repository and
reconciles local edits with the remote through a field-level three-way
merge. Losing values are preserved in an attic for auditing.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return config.Initialize()
	},
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	rootCtx = ctx

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var serr *synerr.Error
		if errors.As(err, &serr) && serr.Kind == synerr.PushPermanent {
			os.Exit(exitPushPermanent)
		}
		os.Exit(exitError)
	}
}

// projectPaths are the fixed locations, relative to the repository root,
// every command operates on.
type projectPaths struct {
	Root          string
	ConfigPath    string
	StatePath     string
	WorkspacesDir string
	WorktreePath  string
}

func resolvePaths() (*projectPaths, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	root, err := config.FindProjectRoot(cwd)
	if err != nil {
		return nil, fmt.Errorf("not inside a tbd project (run 'tbd init' first): %w", err)
	}
	return &projectPaths{
		Root:          root,
		ConfigPath:    filepath.Join(root, config.Dir, config.FileName),
		StatePath:     filepath.Join(root, config.Dir, "state.yml"),
		WorkspacesDir: filepath.Join(root, config.Dir, "workspaces"),
		WorktreePath:  filepath.Join(root, worktree.CheckoutDir),
	}, nil
}

// buildManager loads the configuration and assembles the worktree manager
// every sync-adjacent command drives.
func buildManager(paths *projectPaths) (*worktree.Manager, *record.Config, error) {
	cfg, err := config.Load(paths.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	branch, err := syncbranch.Resolve(cfg)
	if err != nil {
		return nil, nil, err
	}
	remote := cfg.Sync.Remote
	if remote == "" {
		remote = record.DefaultConfig().Sync.Remote
	}
	mgr := &worktree.Manager{
		Adapter: gitadapter.New(paths.Root),
		Path:    paths.WorktreePath,
		Branch:  branch,
		Remote:  remote,
	}
	return mgr, cfg, nil
}

func trimLine(out []byte) string {
	return strings.TrimSpace(string(out))
}

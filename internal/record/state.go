package record

import "time"

// LocalState is the small, untracked document recording side effects of
// sync. It lives at .tbd/state.yml and is never committed to the sync
// branch.
type LocalState struct {
	LastSyncAt    *time.Time `yaml:"last_sync_at,omitempty"`
	LastDocSyncAt *time.Time `yaml:"last_doc_sync_at,omitempty"`

	// LastRemoteSHA is the remote sync branch commit observed at the last
	// successful sync, used to detect history rewrites on the remote.
	LastRemoteSHA string `yaml:"last_remote_sha,omitempty"`
}

package gitadapter

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// ErrorClass classifies a failed push so the sync orchestrator knows
// whether to retry, fall back to the outbox, or just report the error.
type ErrorClass int

const (
	// ClassUnknown means the failure did not match any recognized pattern.
	ClassUnknown ErrorClass = iota
	// ClassPermanent means retrying will not help: the remote rejected the
	// push on authorization or branch-protection grounds.
	ClassPermanent
	// ClassTransient means the failure is likely to clear on its own:
	// network blips, rate limiting, or a non-fast-forward that a re-merge
	// can resolve.
	ClassTransient
)

func (c ErrorClass) String() string {
	switch c {
	case ClassPermanent:
		return "permanent"
	case ClassTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// MaxPushAttempts bounds PushWithRetry's retry loop.
const MaxPushAttempts = 3

var (
	configErrorPatterns = []string{
		"does not appear to be a git repository",
		"no such remote",
	}
	permanentPatterns = regexp.MustCompile(`(?i)(401 unauthorized|403 forbidden|404 not found|permission denied|authentication failed|could not read username|could not read password)`)
	transientPatterns = regexp.MustCompile(`(?i)(50[0-9] |502 bad gateway|503 service unavailable|429 too many requests|timed? ?out|could not resolve host|connection reset|connection refused|non-fast-forward|fetch first|rejected.*non-fast-forward)`)
	curlCodePattern   = regexp.MustCompile(`curl(?:'s)? error is (\d+)|error: (\d+)`)
)

var transientCurlCodes = map[string]bool{"7": true, "28": true, "52": true, "56": true}

// ClassifyPushError inspects a failed push's combined output and message to
// decide whether retrying is worthwhile.
func ClassifyPushError(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	msg := strings.ToLower(errorText(err))

	for _, pat := range configErrorPatterns {
		if strings.Contains(msg, pat) {
			return ClassUnknown
		}
	}

	if m := curlCodePattern.FindStringSubmatch(msg); m != nil {
		code := m[1]
		if code == "" {
			code = m[2]
		}
		if transientCurlCodes[code] {
			return ClassTransient
		}
	}

	if permanentPatterns.MatchString(msg) {
		return ClassPermanent
	}
	if strings.Contains(msg, "ssh") && strings.Contains(msg, "permission denied") {
		return ClassPermanent
	}
	if transientPatterns.MatchString(msg) {
		return ClassTransient
	}
	return ClassUnknown
}

func errorText(err error) string {
	if re, ok := err.(*RunError); ok {
		return re.Output + " " + re.Err.Error()
	}
	return err.Error()
}

// PushOptions configures PushWithRetry.
type PushOptions struct {
	Remote string
	Branch string
	// OnNonFastForward is invoked when a push is rejected as non-fast-forward.
	// It should fetch, re-merge, and return the number of newly introduced
	// conflicts. A zero return means the merge is clean and the push should
	// be retried; a positive return aborts the push with those conflicts.
	OnNonFastForward func(ctx context.Context) (newConflicts int, err error)
}

// PushResult reports the outcome of PushWithRetry.
type PushResult struct {
	OK        bool
	Attempts  int
	Class     ErrorClass
	Conflicts int
	Err       error
}

// PushWithRetry attempts to push Branch to Remote up to MaxPushAttempts
// times, skipping host pre-push hooks. Permanent errors abort immediately;
// non-fast-forward rejections invoke OnNonFastForward and retry if it
// reports a clean re-merge.
func (a *Adapter) PushWithRetry(ctx context.Context, opts PushOptions) *PushResult {
	var lastErr error
	var lastClass ErrorClass

	for attempt := 1; attempt <= MaxPushAttempts; attempt++ {
		_, err := a.runner.Run(ctx, a.repoDir, "push", "--no-verify", opts.Remote, "refs/heads/"+opts.Branch+":refs/heads/"+opts.Branch)
		if err == nil {
			return &PushResult{OK: true, Attempts: attempt}
		}

		class := ClassifyPushError(err)
		lastErr, lastClass = err, class

		if class == ClassPermanent {
			return &PushResult{OK: false, Attempts: attempt, Class: class, Err: err}
		}

		isNonFastForward := strings.Contains(strings.ToLower(errorText(err)), "non-fast-forward") ||
			strings.Contains(strings.ToLower(errorText(err)), "fetch first")

		if isNonFastForward && opts.OnNonFastForward != nil {
			conflicts, mergeErr := opts.OnNonFastForward(ctx)
			if mergeErr != nil {
				return &PushResult{OK: false, Attempts: attempt, Class: class, Err: fmt.Errorf("gitadapter: re-merge after non-fast-forward: %w", mergeErr)}
			}
			if conflicts > 0 {
				return &PushResult{OK: false, Attempts: attempt, Class: ClassTransient, Conflicts: conflicts, Err: err}
			}
			continue
		}

		if class != ClassTransient {
			return &PushResult{OK: false, Attempts: attempt, Class: class, Err: err}
		}
	}

	return &PushResult{OK: false, Attempts: MaxPushAttempts, Class: lastClass, Err: lastErr}
}

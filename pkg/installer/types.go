package installer

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// PackageRequest is one dependency the caller wants installed into the
// target project.
type PackageRequest struct {
	// Name is the package name (may be scoped, e.g. "@prisma/client").
	Name string `json:"name"`

	// Version is an optional version constraint (e.g. "^3.22.0").
	Version string `json:"version,omitempty"`

	// Dev marks the package as a development-only dependency.
	Dev bool `json:"dev,omitempty"`
}

// Spec returns the name@version spec passed to the package manager for a
// remote install.
func (r PackageRequest) Spec() string {
	if r.Version == "" {
		return r.Name
	}
	return r.Name + "@" + r.Version
}

// CacheEntry is a locally available artifact for a package, discovered by
// naming convention in the cache directory.
type CacheEntry struct {
	// Name is the package name the artifact satisfies.
	Name string `json:"name"`

	// Version is the version extracted from the artifact file name.
	Version string `json:"version"`

	// ArchivePath is the absolute path to the artifact archive.
	ArchivePath string `json:"archive_path"`
}

// RetryPolicy controls InstallWithRetry. The default delay is constant, not
// exponential; callers with different needs supply their own policy.
type RetryPolicy struct {
	// Attempts is the total number of Install invocations before giving up.
	Attempts int `json:"attempts"`

	// Delay is the fixed pause between attempts.
	Delay time.Duration `json:"delay"`

	// SettleDelay is the pause after a successful attempt, giving the
	// package-manager process time to release file locks.
	SettleDelay time.Duration `json:"settle_delay"`

	// AttemptTimeout bounds a single Install invocation. Zero means no
	// per-attempt timeout.
	AttemptTimeout time.Duration `json:"attempt_timeout"`
}

// DefaultRetryPolicy returns the stock policy: three attempts five seconds
// apart, a two second settle, and a ten minute cap per attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:       3,
		Delay:          5 * time.Second,
		SettleDelay:    2 * time.Second,
		AttemptTimeout: 10 * time.Minute,
	}
}

// Validate checks if the retry policy is usable.
func (p RetryPolicy) Validate() error {
	if p.Attempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1, got %d", p.Attempts)
	}
	if p.Delay < 0 || p.SettleDelay < 0 || p.AttemptTimeout < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	return nil
}

// InstallError aggregates every failure from one Install invocation so the
// caller can see the full set of failed package names, not just the first.
type InstallError struct {
	// Failed lists the names of every package that failed to install or
	// verify, sorted and de-duplicated.
	Failed []string

	errs *multierror.Error
}

// newInstallError builds an InstallError from collected failures. Returns nil
// when there are none.
func newInstallError(failed map[string]struct{}, errs *multierror.Error) error {
	if len(failed) == 0 && errs.ErrorOrNil() == nil {
		return nil
	}
	names := make([]string, 0, len(failed))
	for name := range failed {
		names = append(names, name)
	}
	sort.Strings(names)
	return &InstallError{Failed: names, errs: errs}
}

// Error implements the error interface.
func (e *InstallError) Error() string {
	return fmt.Sprintf("failed to install packages [%s]: %v",
		strings.Join(e.Failed, ", "), e.errs.ErrorOrNil())
}

// Unwrap exposes the aggregated underlying errors.
func (e *InstallError) Unwrap() error {
	return e.errs.ErrorOrNil()
}

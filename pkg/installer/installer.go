package installer

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/bootforge/bootforge/pkg/telemetry"
)

// Installer installs requested packages into a target project, preferring
// locally cached artifacts over remote fetches and verifying the result.
type Installer struct {
	manager Manager
	cache   *Cache
	target  string
	strict  bool

	runner  Runner
	log     *telemetry.Logger
	metrics *telemetry.Metrics
	sleep   func(time.Duration)
}

// Option customizes an Installer.
type Option func(*Installer)

// WithRunner substitutes the command runner. Used by tests.
func WithRunner(r Runner) Option {
	return func(i *Installer) { i.runner = r }
}

// WithLogger sets the logger.
func WithLogger(log *telemetry.Logger) Option {
	return func(i *Installer) { i.log = log }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(i *Installer) { i.metrics = m }
}

// WithStrictVersions makes the cache honor version constraints: a
// constrained request only accepts a cache artifact with that exact version
// and otherwise falls through to a remote fetch. Off by default, matching
// the trust-the-cache precedence rule.
func WithStrictVersions(strict bool) Option {
	return func(i *Installer) { i.strict = strict }
}

// New creates an installer for the target project directory.
func New(manager Manager, cache *Cache, targetDir string, opts ...Option) *Installer {
	i := &Installer{
		manager: manager,
		cache:   cache,
		target:  targetDir,
		runner:  execRunner{},
		log:     telemetry.Nop(),
		metrics: &telemetry.Metrics{},
		sleep:   time.Sleep,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Install installs every requested package. Cached artifacts are installed
// first, one at a time, collecting failures rather than stopping at the
// first bad entry; the remaining packages go to the package manager in one
// batched invocation so it can resolve a consistent dependency graph. Every
// requested package is then verified against the install location.
//
// An empty request list is a no-op success. On failure the returned error is
// an *InstallError listing every failed package name.
func (i *Installer) Install(ctx context.Context, requests []PackageRequest) error {
	if len(requests) == 0 {
		return nil
	}

	start := time.Now()
	err := i.install(ctx, requests)
	if err != nil {
		i.metrics.InstallAttempt("failure", time.Since(start).Seconds())
		return err
	}
	i.metrics.InstallAttempt("success", time.Since(start).Seconds())
	return nil
}

func (i *Installer) install(ctx context.Context, requests []PackageRequest) error {
	cached, remote := i.partition(requests)

	failed := make(map[string]struct{})
	var errs *multierror.Error

	// Cached entries install one at a time; one bad archive must not block
	// the rest.
	for _, c := range cached {
		log := i.log.WithPackage(c.request.Name)
		log.WithField("archive", c.entry.ArchivePath).Debug("installing from cache")
		args := i.manager.addArgs(c.request.Dev, []string{c.entry.ArchivePath})
		if err := i.runner.Run(ctx, i.target, i.manager.Bin, args...); err != nil {
			log.WithError(err).Warn("cached install failed")
			failed[c.request.Name] = struct{}{}
			errs = multierror.Append(errs, err)
			continue
		}
		i.metrics.PackageInstalled("cache")
	}

	// Remote requests batch into at most two invocations, split on the
	// dev flag.
	for _, batch := range []struct {
		dev      bool
		requests []PackageRequest
	}{
		{dev: false, requests: filterDev(remote, false)},
		{dev: true, requests: filterDev(remote, true)},
	} {
		if len(batch.requests) == 0 {
			continue
		}
		specs := make([]string, 0, len(batch.requests))
		for _, r := range batch.requests {
			specs = append(specs, r.Spec())
		}
		i.log.WithField("packages", specs).Debug("installing from registry")
		args := i.manager.addArgs(batch.dev, specs)
		if err := i.runner.Run(ctx, i.target, i.manager.Bin, args...); err != nil {
			i.log.WithError(err).Warn("remote install failed")
			for _, r := range batch.requests {
				failed[r.Name] = struct{}{}
			}
			errs = multierror.Append(errs, err)
			continue
		}
		for range batch.requests {
			i.metrics.PackageInstalled("remote")
		}
	}

	// Post-install verification. A package that installed without error but
	// is absent from the install location counts as a failure, same as any
	// other.
	for _, r := range requests {
		if _, already := failed[r.Name]; already {
			continue
		}
		if !i.Verify(r.Name) {
			i.log.WithPackage(r.Name).Warn("package missing after install")
			failed[r.Name] = struct{}{}
			errs = multierror.Append(errs,
				&VerifyError{Name: r.Name, Dir: i.installDir(r.Name)})
		}
	}

	return newInstallError(failed, errs)
}

// cachedRequest pairs a request with the cache entry serving it.
type cachedRequest struct {
	request PackageRequest
	entry   CacheEntry
}

// partition splits requests into cache-served and remote groups. A package
// present in both the cache and the registry resolves in favor of the cache;
// no remote fetch is issued for it.
func (i *Installer) partition(requests []PackageRequest) ([]cachedRequest, []PackageRequest) {
	var cached []cachedRequest
	var remote []PackageRequest
	for _, r := range requests {
		if entry, ok := i.cache.Lookup(r.Name); ok && entry.Satisfies(r, i.strict) {
			cached = append(cached, cachedRequest{request: r, entry: entry})
			continue
		}
		remote = append(remote, r)
	}
	return cached, remote
}

func filterDev(requests []PackageRequest, dev bool) []PackageRequest {
	var out []PackageRequest
	for _, r := range requests {
		if r.Dev == dev {
			out = append(out, r)
		}
	}
	return out
}

// Verify reports whether the package is present in the target install
// location.
func (i *Installer) Verify(name string) bool {
	info, err := os.Stat(i.installDir(name))
	return err == nil && info.IsDir()
}

func (i *Installer) installDir(name string) string {
	return filepath.Join(i.target, "node_modules", filepath.FromSlash(name))
}

// VerifyError reports a package that appeared to install but is missing from
// the install location.
type VerifyError struct {
	Name string
	Dir  string
}

// Error implements the error interface.
func (e *VerifyError) Error() string {
	return "package " + e.Name + " not found at " + e.Dir + " after install"
}

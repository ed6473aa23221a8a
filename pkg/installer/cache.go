package installer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Cache looks up pre-fetched package archives in a directory. Artifacts
// follow the pack naming convention: <name>-<version>.tgz, with scoped names
// flattened ("@scope/pkg" becomes "scope-pkg"). Entries are populated out of
// band; the cache never writes.
//
// Presence is trusted by name alone, no content hash is checked.
type Cache struct {
	dir string
}

// NewCache creates a cache over the given directory. A missing directory is
// valid and behaves as an empty cache.
func NewCache(dir string) *Cache {
	return &Cache{dir: dir}
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Lookup finds a cached artifact for the package name. When several versions
// of the same package are cached, the lexicographically last file wins.
func (c *Cache) Lookup(name string) (CacheEntry, bool) {
	if c == nil || c.dir == "" {
		return CacheEntry{}, false
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return CacheEntry{}, false
	}

	prefix := flattenName(name) + "-"
	var match CacheEntry
	found := false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		version, ok := artifactVersion(e.Name(), prefix)
		if !ok {
			continue
		}
		if !found || e.Name() > filepath.Base(match.ArchivePath) {
			match = CacheEntry{
				Name:        name,
				Version:     version,
				ArchivePath: filepath.Join(c.dir, e.Name()),
			}
			found = true
		}
	}
	return match, found
}

// artifactVersion extracts the version from an archive file name, or reports
// that the file does not belong to the package. Requiring the version to
// start with a digit keeps "zod-1.0.0.tgz" from matching package "z" or
// "zod-utils" artifacts from matching "zod".
func artifactVersion(fileName, prefix string) (string, bool) {
	base := fileName
	switch {
	case strings.HasSuffix(base, ".tgz"):
		base = strings.TrimSuffix(base, ".tgz")
	case strings.HasSuffix(base, ".tar.gz"):
		base = strings.TrimSuffix(base, ".tar.gz")
	default:
		return "", false
	}
	if !strings.HasPrefix(base, prefix) {
		return "", false
	}
	version := strings.TrimPrefix(base, prefix)
	if version == "" || version[0] < '0' || version[0] > '9' {
		return "", false
	}
	return version, true
}

// flattenName maps a package name onto its artifact file prefix.
func flattenName(name string) string {
	name = strings.TrimPrefix(name, "@")
	return strings.ReplaceAll(name, "/", "-")
}

// Satisfies reports whether the cache entry may serve the request. With
// strict versioning off (the default), any entry matching by name wins
// regardless of the requested constraint. With it on, a constrained request
// only accepts an artifact whose version equals the constraint exactly.
func (e CacheEntry) Satisfies(req PackageRequest, strict bool) bool {
	if e.Name != req.Name {
		return false
	}
	if !strict || req.Version == "" {
		return true
	}
	return e.Version == trimConstraint(req.Version)
}

// trimConstraint strips range operators so "^3.22.0" compares as "3.22.0".
func trimConstraint(constraint string) string {
	return strings.TrimLeft(constraint, "^~>=<v ")
}

// Validate checks the cache directory is usable when set.
func (c *Cache) Validate() error {
	if c.dir == "" {
		return nil
	}
	info, err := os.Stat(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat cache directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("cache path %s is not a directory", c.dir)
	}
	return nil
}

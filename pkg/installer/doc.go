// Package installer wraps an external package manager with a cache-first,
// retrying installation layer. Requested packages are sorted into locally
// cached artifacts and remote fetches, installed, verified against the
// target install location, and all failures are aggregated into a single
// error listing every failed package.
package installer

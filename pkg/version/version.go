// Package version provides build version information for Corpora.
package version

// Version is the current Corpora version.
// Overridden at build time via -ldflags "-X github.com/corpora-ai/corpora/pkg/version.Version=...".
var Version = "0.3.0"

// Commit is the git commit hash, set at build time.
var Commit = "dev"

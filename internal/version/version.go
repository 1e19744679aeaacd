package version

import (
	"os/exec"
	"strings"
)

// Build metadata, overridden at release time via -ldflags. These defaults
// are what a plain `go build` produces; the CLI, the health endpoint, and
// the download User-Agent all report from here.
var (
	Version = "1.0.0"
	Commit  = "unknown"
	Date    = "unknown"
)

// Resolve returns the user-visible version string. When run from inside a
// git checkout whose HEAD is not on a release tag it appends a describe
// suffix, so unreleased builds are distinguishable in logs and bug reports.
func Resolve() string {
	return resolveVersion(Version, runGit)
}

func resolveVersion(base string, git func(...string) (string, error)) string {
	if base == "" {
		base = "0.0.0"
	}

	suffix := describeSuffix(base, git)
	if suffix == "" {
		return base
	}
	return base + "-" + suffix
}

// describeSuffix derives the suffix from git describe. Outside a repository,
// or exactly on a tag, there is nothing to append.
func describeSuffix(base string, git func(...string) (string, error)) string {
	if _, err := git("rev-parse", "--git-dir"); err != nil {
		return ""
	}

	if _, err := git("describe", "--tags", "--exact-match"); err == nil {
		return ""
	}

	desc, err := git("describe", "--tags", "--dirty", "--always")
	if err != nil {
		return ""
	}

	prefix := "v" + base + "-"
	if strings.HasPrefix(desc, prefix) {
		return strings.TrimPrefix(desc, prefix)
	}

	return desc
}

func runGit(args ...string) (string, error) {
	out, err := exec.Command("git", args...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

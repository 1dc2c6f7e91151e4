// Package retention implements the atomic publication and generation
// retention layer (C9): staging directory management, the three retention
// policies of spec.md §4.8 (default, by-age, classic-compatibility), and
// the rename that makes a build visible.
package retention

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/holocm/repoindex/internal/config"
	"github.com/holocm/repoindex/internal/xmlfmt"
)

// stagingName is the directory a build writes into before publication;
// spec.md §4.8 fixes this name so a crash mid-build is unambiguous to find
// and clean up on the next invocation.
const stagingName = ".repodata"
const publishedName = "repodata"

// StagingDir returns the staging directory path for outputDir without
// creating it.
func StagingDir(outputDir string) string {
	return filepath.Join(outputDir, stagingName)
}

// PublishedDir returns the published repodata directory path for outputDir.
func PublishedDir(outputDir string) string {
	return filepath.Join(outputDir, publishedName)
}

// PrepareStagingDir removes any stale staging directory left behind by a
// prior crashed or interrupted run, then creates a fresh one.
func PrepareStagingDir(outputDir string) (string, error) {
	dir := StagingDir(outputDir)
	if err := os.RemoveAll(dir); err != nil {
		return "", config.Wrap("clearing stale staging directory", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", config.Wrap("creating staging directory", err)
	}
	return dir, nil
}

// Kind selects which of the three policies of spec.md §4.8 governs which
// files from the previous generation are carried forward.
type Kind int

const (
	// KindDefault excludes every file listed as a record in the old
	// repomd.xml; new artifacts replace them one for one.
	KindDefault Kind = iota
	// KindByAge excludes any old-directory file whose mtime age exceeds
	// AgeSeconds.
	KindByAge
	// KindClassic sorts each of the three metadata families by mtime
	// descending and excludes everything past the top Retain entries,
	// matching createrepo_c's --retain-old-md-by-age-compat behaviour.
	KindClassic
)

// Policy selects a retention Kind and its parameter.
type Policy struct {
	Kind       Kind
	AgeSeconds int64
	Retain     int
}

// PolicyFromOptions derives the retention policy from the mutually
// exclusive --retain-old/--retain-age flags; Validate already rejects
// setting both.
func PolicyFromOptions(retainOld int, retainAge int64) Policy {
	switch {
	case retainOld > 0:
		return Policy{Kind: KindClassic, Retain: retainOld}
	case retainAge >= 0:
		return Policy{Kind: KindByAge, AgeSeconds: retainAge}
	default:
		return Policy{Kind: KindDefault}
	}
}

// family classifies a repodata file name by which of the three metadata
// streams it belongs to; files matching none (repomd.xml, group files,
// a groupfile's gzip sibling) are never subject to classic-compat pruning.
func family(name string) string {
	switch {
	case strings.Contains(name, "primary"):
		return "primary"
	case strings.Contains(name, "filelists"):
		return "filelists"
	case strings.Contains(name, "other"):
		return "other"
	default:
		return ""
	}
}

// Publish runs the retention policy against any existing published
// directory, copies forward whatever it leaves unexcluded into stagingDir
// (skipping destinations the build itself already produced), then performs
// the atomic rename that makes stagingDir the new repodata/. This is
// spec.md §4.8 steps 1-3; up to the final rename, a crash leaves the old
// repo untouched.
func Publish(outputDir, stagingDir string, policy Policy) error {
	oldDir := PublishedDir(outputDir)

	if fi, err := os.Stat(oldDir); err == nil && fi.IsDir() {
		if err := carryForward(oldDir, stagingDir, policy); err != nil {
			return err
		}
		if err := os.RemoveAll(oldDir); err != nil {
			return config.Wrap("removing previous repodata", err)
		}
	}

	if err := os.Rename(stagingDir, oldDir); err != nil {
		return config.Wrap("publishing repodata", err)
	}
	return nil
}

func carryForward(oldDir, stagingDir string, policy Policy) error {
	entries, err := os.ReadDir(oldDir)
	if err != nil {
		return config.Wrap("reading previous repodata", err)
	}

	excluded, err := excludedNames(oldDir, entries, policy)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || excluded[entry.Name()] {
			continue
		}
		dst := filepath.Join(stagingDir, entry.Name())
		if _, err := os.Stat(dst); err == nil {
			continue // the new build already produced this file
		}
		if err := copyFile(filepath.Join(oldDir, entry.Name()), dst); err != nil {
			return err
		}
	}
	return nil
}

func excludedNames(oldDir string, entries []os.DirEntry, policy Policy) (map[string]bool, error) {
	excluded := map[string]bool{"repomd.xml": true}

	switch policy.Kind {
	case KindByAge:
		now := time.Now()
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if now.Sub(info.ModTime()) > time.Duration(policy.AgeSeconds)*time.Second {
				excluded[entry.Name()] = true
			}
		}

	case KindClassic:
		byFamily := map[string][]os.DirEntry{}
		for _, entry := range entries {
			if f := family(entry.Name()); f != "" {
				byFamily[f] = append(byFamily[f], entry)
			}
		}
		for _, group := range byFamily {
			sort.Slice(group, func(i, j int) bool {
				ii, _ := group[i].Info()
				jj, _ := group[j].Info()
				if ii == nil || jj == nil {
					return false
				}
				return ii.ModTime().After(jj.ModTime())
			})
			for i, entry := range group {
				if i >= policy.Retain {
					excluded[entry.Name()] = true
				}
			}
		}

	default: // KindDefault
		data, err := os.ReadFile(filepath.Join(oldDir, "repomd.xml"))
		if err != nil {
			return nil, config.Wrap("reading previous repomd.xml", err)
		}
		md, err := xmlfmt.ParseRepoMD(data)
		if err != nil {
			return nil, err
		}
		for _, rec := range md.Records {
			excluded[filepath.Base(rec.LocationHref)] = true
		}
	}
	return excluded, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return config.Wrap("opening "+src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return config.Wrap("creating "+dst, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return config.Wrap("copying "+src+" forward", err)
	}
	return nil
}

// Guard installs a SIGINT handler that, per spec.md §5's cancellation
// model, unlinks stagingDir and exits without individually cancelling
// in-flight workers (process exit is sufficient because no side effects
// outside the staging directory have yet occurred). The caller must invoke
// the returned release func exactly once after a successful Publish, which
// disarms the handler without triggering the cleanup path.
func Guard(ctx context.Context, stagingDir string) (release func()) {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	done := make(chan struct{})

	go func() {
		select {
		case <-sigCtx.Done():
			os.RemoveAll(stagingDir)
			os.Exit(1)
		case <-done:
		}
	}()

	return func() {
		close(done)
		stop()
	}
}

package pipeline

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/holocm/repoindex/internal/config"
)

// Task is one RPM discovered for this build: its full path, basename and
// parent directory, plus the monotonically increasing id that fixes its
// position in all three output streams once discovery is sorted.
type Task struct {
	FullPath  string
	RelPath   string // path relative to the indexed root, used as location href
	Basename  string
	ParentDir string
	ID        int64
}

// DiscoverOptions configures Discover.
type DiscoverOptions struct {
	// IncludePkgs and PkgListFile, if either is non-empty, restrict
	// discovery to exactly the named paths (resolved against Root)
	// instead of walking the directory tree.
	IncludePkgs []string
	PkgListFile string

	Excludes     []string
	SkipSymlinks bool
}

// Discover resolves the set of RPMs a build should process, sorts them by
// (basename, parent dir) per spec.md §4.6.1, and stamps each with its
// position as an Task.ID.
func Discover(root string, opts DiscoverOptions) ([]Task, error) {
	var paths []string
	var err error

	switch {
	case len(opts.IncludePkgs) > 0:
		paths = opts.IncludePkgs
	case opts.PkgListFile != "":
		paths, err = readPkgList(opts.PkgListFile)
		if err != nil {
			return nil, err
		}
	default:
		paths, err = walkRPMs(root, opts.SkipSymlinks)
		if err != nil {
			return nil, err
		}
	}

	tasks := make([]Task, 0, len(paths))
	for _, p := range paths {
		full := p
		if !filepath.IsAbs(full) {
			full = filepath.Join(root, full)
		}
		base := filepath.Base(full)
		if excluded(base, opts.Excludes) {
			continue
		}
		rel, relErr := filepath.Rel(root, full)
		if relErr != nil || strings.HasPrefix(rel, "..") {
			rel = base
		}
		tasks = append(tasks, Task{
			FullPath:  full,
			RelPath:   filepath.ToSlash(rel),
			Basename:  base,
			ParentDir: filepath.Dir(full),
		})
	}

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Basename != tasks[j].Basename {
			return tasks[i].Basename < tasks[j].Basename
		}
		return tasks[i].ParentDir < tasks[j].ParentDir
	})
	for i := range tasks {
		tasks[i].ID = int64(i)
	}
	return tasks, nil
}

func excluded(basename string, patterns []string) bool {
	for _, pat := range patterns {
		if ok, _ := filepath.Match(pat, basename); ok {
			return true
		}
	}
	return false
}

func readPkgList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, config.Wrap("reading pkglist file", err)
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, nil
}

func walkRPMs(root string, skipSymlinks bool) ([]string, error) {
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if info.Mode()&os.ModeSymlink != 0 {
			if skipSymlinks {
				return nil
			}
		}
		if !strings.HasSuffix(strings.ToLower(path), ".rpm") {
			return nil
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, config.Wrap("walking "+root, err)
	}
	return out, nil
}

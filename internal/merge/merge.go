// Package merge implements the merger variant of the build pipeline
// (spec.md §4.6.5): it loads every input repo's Package Facts through C6,
// applies an admission policy to resolve which repo's copy of a given
// (name, arch) wins, and hands the survivors to internal/pipeline.RunFacts
// to feed the same ordered multi-sink writer a single createrepo-go build
// uses.
package merge

import (
	"path/filepath"
	"strings"

	"github.com/holocm/repoindex/internal/config"
	"github.com/holocm/repoindex/internal/oldmeta"
	"github.com/holocm/repoindex/internal/rpmfact"
	"github.com/holocm/repoindex/internal/rpmver"
)

// Options configures one merge run.
type Options struct {
	// Repos are input repo directories, highest priority first. Used as-is
	// by the "repo-first" admission policy and as the load order for every
	// other policy.
	Repos []string

	ArchList   []string
	Method     config.MergeMethod
	Blocked    []string
	NoarchRepo string
}

// repoPackage pairs a Package Fact with the priority index of the repo it
// came from, needed by the repo-first admission policy.
type repoPackage struct {
	pkg       *rpmfact.Package
	repoIndex int
}

// Merge loads every repo in Options.Repos, applies the blocked-SRPM set,
// architecture filter, admission policy, and noarch-override repo (in that
// order, matching spec.md §4.6.5's description), and returns the surviving
// Package Facts ready for internal/pipeline.RunFacts.
func Merge(opts Options) ([]*rpmfact.Package, error) {
	blocked := make(map[string]bool, len(opts.Blocked))
	for _, name := range opts.Blocked {
		blocked[name] = true
	}
	archAllowed := make(map[string]bool, len(opts.ArchList))
	for _, a := range opts.ArchList {
		archAllowed[a] = true
	}

	var candidates []repoPackage
	for i, repoDir := range opts.Repos {
		pkgs, err := loadRepo(repoDir)
		if err != nil {
			return nil, err
		}
		for _, p := range pkgs {
			if blocked[srpmName(p.SourceRPM)] {
				continue
			}
			if len(archAllowed) > 0 && !archAllowed[p.Arch] {
				continue
			}
			candidates = append(candidates, repoPackage{pkg: p, repoIndex: i})
		}
	}

	selected := admit(candidates, opts.Method)

	if opts.NoarchRepo != "" {
		overridden, err := applyNoarchOverride(selected, opts.NoarchRepo)
		if err != nil {
			return nil, err
		}
		selected = overridden
	}
	return selected, nil
}

func loadRepo(repoDir string) ([]*rpmfact.Package, error) {
	loader := oldmeta.NewLoader(oldmeta.KeyHash)
	if err := loader.LoadRepoDir(repoDir); err != nil {
		return nil, config.Wrap("loading repo "+repoDir, err)
	}
	return loader.All(), nil
}

// admit resolves each candidate group to a single winner under the
// configured policy. Grouping is by (name, arch) for every policy except
// "all", which groups by (name, arch, version, release) since it is
// defined to keep every distinct NVRA rather than pick one.
func admit(candidates []repoPackage, method config.MergeMethod) []*rpmfact.Package {
	groups := make(map[string][]repoPackage)
	var order []string

	for _, c := range candidates {
		key := c.pkg.Name + "\x00" + c.pkg.Arch
		if method == config.MergeAll {
			key += "\x00" + c.pkg.Version + "\x00" + c.pkg.Release
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}

	out := make([]*rpmfact.Package, 0, len(order))
	for _, key := range order {
		group := groups[key]
		if method == config.MergeAll {
			out = append(out, group[0].pkg)
			continue
		}
		out = append(out, winner(group, method).pkg)
	}
	return out
}

func winner(group []repoPackage, method config.MergeMethod) repoPackage {
	best := group[0]
	for _, c := range group[1:] {
		switch method {
		case config.MergeTimestamp:
			if c.pkg.TimeFile > best.pkg.TimeFile {
				best = c
			}
		case config.MergeNVR:
			cmp := rpmver.Compare(c.pkg.Epoch, c.pkg.Version, c.pkg.Release, best.pkg.Epoch, best.pkg.Version, best.pkg.Release)
			if cmp > 0 {
				best = c
			}
		default: // config.MergeRepoFirst
			if c.repoIndex < best.repoIndex {
				best = c
			}
		}
	}
	return best
}

// srpmName strips the NVRA and ".src.rpm"/".nosrc.rpm" suffix from a
// SourceRPM field, leaving the bare package name the blocked-srpms set
// matches against.
func srpmName(sourceRPM string) string {
	base := filepath.Base(sourceRPM)
	base = strings.TrimSuffix(base, ".src.rpm")
	base = strings.TrimSuffix(base, ".nosrc.rpm")

	// base is now "<name>-<version>-<release>"; trim the last two
	// dash-separated segments to recover name, which may itself contain
	// dashes.
	fields := strings.Split(base, "-")
	if len(fields) < 3 {
		return base
	}
	return strings.Join(fields[:len(fields)-2], "-")
}

// applyNoarchOverride replaces any selected noarch package whose RPM
// basename also appears in overrideRepo with that repo's copy of the fact.
func applyNoarchOverride(selected []*rpmfact.Package, overrideRepo string) ([]*rpmfact.Package, error) {
	overridePkgs, err := loadRepo(overrideRepo)
	if err != nil {
		return nil, err
	}
	byBasename := make(map[string]*rpmfact.Package, len(overridePkgs))
	for _, p := range overridePkgs {
		byBasename[filepath.Base(p.LocationHref)] = p
	}

	out := make([]*rpmfact.Package, len(selected))
	for i, p := range selected {
		if p.Arch == "noarch" {
			if override, ok := byBasename[filepath.Base(p.LocationHref)]; ok {
				out[i] = override
				continue
			}
		}
		out[i] = p
	}
	return out, nil
}

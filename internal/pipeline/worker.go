package pipeline

import (
	"os"
	"sync/atomic"

	"github.com/holocm/repoindex/internal/checksum"
	"github.com/holocm/repoindex/internal/oldmeta"
	"github.com/holocm/repoindex/internal/rpmfact"
	"github.com/holocm/repoindex/internal/xmlfmt"
)

// processor runs the per-task routine of spec.md §4.6.2: resolve a Package
// Fact (from cache or freshly parsed), render its three XML fragments, and
// hand the result to the ordered writer. One processor is shared across
// every worker goroutine; its only mutable state is the atomic extractCount.
type processor struct {
	opts         Options
	extractCount atomic.Int64 // number of times rpmfact.Extract actually ran; idempotence test hook
}

// run executes the per-task routine for one Task and returns the
// pendingResult the caller should Submit to the orderedWriter.
func (p *processor) run(task Task) *pendingResult {
	pkg, fresh, err := p.resolvePackage(task)
	if err != nil {
		if p.opts.Logger != nil {
			p.opts.Logger.WarnPackage(task.FullPath, err)
		}
		return &pendingResult{id: task.ID, werr: err}
	}

	primaryFrag, err := xmlfmt.RenderPackagePrimary(pkg)
	if err != nil {
		if p.opts.Logger != nil {
			p.opts.Logger.WarnPackage(task.FullPath, err)
		}
		return &pendingResult{id: task.ID, werr: err}
	}
	filelistsFrag, err := xmlfmt.RenderPackageFilelists(pkg)
	if err != nil {
		if p.opts.Logger != nil {
			p.opts.Logger.WarnPackage(task.FullPath, err)
		}
		return &pendingResult{id: task.ID, werr: err}
	}
	otherFrag, err := xmlfmt.RenderPackageOther(pkg)
	if err != nil {
		if p.opts.Logger != nil {
			p.opts.Logger.WarnPackage(task.FullPath, err)
		}
		return &pendingResult{id: task.ID, werr: err}
	}

	return &pendingResult{
		id: task.ID,
		frag: fragments{
			primary:   primaryFrag,
			filelists: filelistsFrag,
			other:     otherFrag,
		},
		pkg:   pkg,
		fresh: fresh,
	}
}

// resolvePackage implements spec.md §4.6.2 step 1: reuse a cached Package
// Fact when the old-metadata loader has one whose identity agrees with the
// file on disk (or unconditionally under --skip-stat), otherwise invoke C3.
func (p *processor) resolvePackage(task Task) (*rpmfact.Package, bool, error) {
	if cached := p.lookupCache(task); cached != nil {
		clone := cached.Clone()
		clone.LocationHref = task.RelPath
		clone.LocationBase = p.opts.LocationBase
		return clone, false, nil
	}

	p.extractCount.Add(1)
	pkg, err := rpmfact.Extract(task.FullPath, rpmfact.Options{
		ChecksumAlgo:   p.opts.ChecksumAlgo,
		LocationHref:   task.RelPath,
		LocationBase:   p.opts.LocationBase,
		ChangelogLimit: p.opts.ChangelogLimit,
	})
	if err != nil {
		return nil, false, err
	}
	return pkg, true, nil
}

func (p *processor) lookupCache(task Task) *rpmfact.Package {
	if p.opts.OldLoader == nil {
		return nil
	}
	cached, ok := p.opts.OldLoader.Get(task.Basename)
	if !ok {
		return nil
	}
	if p.opts.SkipStat {
		return cached
	}
	fi, err := os.Stat(task.FullPath)
	if err != nil {
		return nil
	}
	algo := p.opts.ChecksumAlgo
	if algo == "" {
		algo = checksum.SHA256
	}
	if oldmeta.MatchesCache(cached, false, fi.ModTime().Unix(), fi.Size(), string(algo)) {
		return cached
	}
	return nil
}

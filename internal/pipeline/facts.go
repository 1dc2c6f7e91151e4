package pipeline

import (
	"context"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/holocm/repoindex/internal/rpmfact"
	"github.com/holocm/repoindex/internal/xmlfmt"
)

// RunFacts drives the same ordered multi-sink writer as Run, but for
// already-resolved Package Facts rather than RPM files to extract — the
// merger variant (internal/merge) loads every input fact via C6 and has no
// further extraction work to do. Facts are id-stamped by sorting on their
// final location href (mirroring Discover's basename/parent ordering) so
// repeated merges of the same input set are reproducible.
func RunFacts(ctx context.Context, stagingDir string, facts []*rpmfact.Package, opts Options) (*Result, error) {
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	ordered := make([]*rpmfact.Package, len(facts))
	copy(ordered, facts)
	sort.Slice(ordered, func(i, j int) bool {
		bi, bj := filepath.Base(ordered[i].LocationHref), filepath.Base(ordered[j].LocationHref)
		if bi != bj {
			return bi < bj
		}
		return ordered[i].LocationHref < ordered[j].LocationHref
	})

	total := int64(len(ordered))
	streams, err := openStreams(stagingDir, total, opts)
	if err != nil {
		return nil, err
	}

	ow := newOrderedWriter(streams.primary, streams.filelists, streams.other, total)

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(opts.Workers))

	for i, pkg := range ordered {
		id := int64(i)
		pkg := pkg
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			res := renderFact(id, pkg, opts)
			return ow.Submit(res)
		})
	}

	if err := g.Wait(); err != nil {
		streams.abort()
		return nil, err
	}

	written := ow.WrittenCount()
	result, err := streams.close(opts, written)
	if err != nil {
		return nil, err
	}
	result.PackageCount = int(written)
	return result, nil
}

func renderFact(id int64, pkg *rpmfact.Package, opts Options) *pendingResult {
	primaryFrag, err := xmlfmt.RenderPackagePrimary(pkg)
	if err != nil {
		if opts.Logger != nil {
			opts.Logger.WarnPackage(pkg.LocationHref, err)
		}
		return &pendingResult{id: id, werr: err}
	}
	filelistsFrag, err := xmlfmt.RenderPackageFilelists(pkg)
	if err != nil {
		if opts.Logger != nil {
			opts.Logger.WarnPackage(pkg.LocationHref, err)
		}
		return &pendingResult{id: id, werr: err}
	}
	otherFrag, err := xmlfmt.RenderPackageOther(pkg)
	if err != nil {
		if opts.Logger != nil {
			opts.Logger.WarnPackage(pkg.LocationHref, err)
		}
		return &pendingResult{id: id, werr: err}
	}

	return &pendingResult{
		id: id,
		frag: fragments{
			primary:   primaryFrag,
			filelists: filelistsFrag,
			other:     otherFrag,
		},
		pkg: pkg,
	}
}

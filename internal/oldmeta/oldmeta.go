// Package oldmeta streams a previously published repository's three XML
// metadata files back into memory so the build pipeline can reuse cached
// Package Facts for RPMs whose on-disk identity has not changed.
package oldmeta

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/holocm/repoindex/internal/compress"
	"github.com/holocm/repoindex/internal/rpmfact"
	"github.com/holocm/repoindex/internal/xmlfmt"
)

// Key selects which field of a Package Fact indexes the loader's lookup
// map, mirroring the three hashtable keys createrepo_c's loader supports.
type Key int

const (
	KeyHash Key = iota
	KeyName
	KeyFilename
)

// Loader holds every Package Fact parsed from a prior repo generation,
// indexed by the configured Key. It is read-only once LoadRepoDir returns; the
// pipeline's workers may consult it lock-free.
type Loader struct {
	key      Key
	byKey    map[string]*rpmfact.Package
	allow    map[string]bool // nil means "no allowlist, keep everything"
	repomd   xmlfmt.RepoMD
}

// NewLoader creates an empty loader keyed by key.
func NewLoader(key Key) *Loader {
	return &Loader{key: key, byKey: make(map[string]*rpmfact.Package)}
}

// Allow restricts the loader to only retain packages whose basename is in
// the given set; everything else is parsed (to keep the XML well-formed)
// but dropped immediately, bounding memory on large repos where only a
// subset of packages need a cache lookup.
func (l *Loader) Allow(basenames ...string) {
	l.allow = make(map[string]bool, len(basenames))
	for _, b := range basenames {
		l.allow[b] = true
	}
}

// Get looks up a cached Package Fact by this loader's key field.
func (l *Loader) Get(key string) (*rpmfact.Package, bool) {
	p, ok := l.byKey[key]
	return p, ok
}

// Len reports how many packages are currently retained.
func (l *Loader) Len() int { return len(l.byKey) }

// RepoTags, ContentTags, and DistroTags return the free-form repo identity
// tags carried in the prior generation's repomd.xml, so --update runs can
// preserve them when the command line doesn't override them explicitly.
func (l *Loader) RepoTags() []string    { return l.repomd.RepoTags }
func (l *Loader) ContentTags() []string { return l.repomd.ContentTags }
func (l *Loader) DistroTags() []xmlfmt.DistroTag {
	out := make([]xmlfmt.DistroTag, len(l.repomd.DistroTags))
	copy(out, l.repomd.DistroTags)
	return out
}

// All returns every retained Package Fact, in no particular order. Used by
// the merger variant (internal/merge), which needs the full set loaded
// from each input repo rather than single-key lookups.
func (l *Loader) All() []*rpmfact.Package {
	out := make([]*rpmfact.Package, 0, len(l.byKey))
	for _, p := range l.byKey {
		out = append(out, p)
	}
	return out
}

// LoadRepoDir locates repodata/repomd.xml under repoDir, resolves the
// primary/filelists/other records, decompresses and parses each, and
// merges the result into l. On key collision the first occurrence wins —
// callers merging multiple repos should call LoadRepoDir in priority order.
func (l *Loader) LoadRepoDir(repoDir string) error {
	repomdPath := filepath.Join(repoDir, "repodata", "repomd.xml")
	repomdData, err := os.ReadFile(repomdPath)
	if err != nil {
		return fmt.Errorf("oldmeta: reading %s: %w", repomdPath, err)
	}
	md, err := xmlfmt.ParseRepoMD(repomdData)
	if err != nil {
		return fmt.Errorf("oldmeta: parsing %s: %w", repomdPath, err)
	}
	l.repomd = md

	primary, filelists, other, err := readCoreStreams(repoDir, md)
	if err != nil {
		return err
	}

	return l.mergeStreams(primary, filelists, other)
}

func readCoreStreams(repoDir string, md xmlfmt.RepoMD) (primary, filelists, other []byte, err error) {
	read := func(recordType string) ([]byte, error) {
		rec, ok := md.FindRecord(recordType)
		if !ok {
			return nil, nil
		}
		path := filepath.Join(repoDir, rec.LocationHref)
		r, err := compress.OpenReadFile(path, compress.AutoDetect, "")
		if err != nil {
			return nil, fmt.Errorf("oldmeta: opening %s: %w", path, err)
		}
		defer r.Close()
		data, err := readAll(r)
		if err != nil {
			return nil, fmt.Errorf("oldmeta: decompressing %s: %w", path, err)
		}
		return data, nil
	}

	if primary, err = read("primary"); err != nil {
		return nil, nil, nil, err
	}
	if filelists, err = read("filelists"); err != nil {
		return nil, nil, nil, err
	}
	if other, err = read("other"); err != nil {
		return nil, nil, nil, err
	}
	return primary, filelists, other, nil
}

func readAll(r io.Reader) ([]byte, error) {
	var buf []byte
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				return buf, nil
			}
			return buf, err
		}
	}
}

// mergeStreams merges parsed primary/filelists/other packages into l's
// lookup map, applying the allowlist and the "first occurrence wins" rule.
func (l *Loader) mergeStreams(primaryXML, filelistsXML, otherXML []byte) error {
	primaryPkgs, err := xmlfmt.ParsePrimary(primaryXML)
	if err != nil {
		return fmt.Errorf("oldmeta: %w", err)
	}

	byPkgID := make(map[string]*rpmfact.Package, len(primaryPkgs))
	for _, p := range primaryPkgs {
		p.Cached = true
		byPkgID[p.PkgID] = p
	}

	if len(filelistsXML) > 0 {
		flPkgs, err := xmlfmt.ParseFilelists(filelistsXML)
		if err != nil {
			return fmt.Errorf("oldmeta: %w", err)
		}
		for _, fl := range flPkgs {
			if p, ok := byPkgID[fl.PkgID]; ok {
				p.Files = fl.Files
			}
		}
	}

	if len(otherXML) > 0 {
		otherPkgs, err := xmlfmt.ParseOther(otherXML)
		if err != nil {
			return fmt.Errorf("oldmeta: %w", err)
		}
		for _, op := range otherPkgs {
			if p, ok := byPkgID[op.PkgID]; ok {
				p.Changelogs = op.Changelogs
			}
		}
	}

	for _, p := range byPkgID {
		basename := filepath.Base(p.LocationHref)
		if l.allow != nil && !l.allow[basename] {
			continue // parsed (to keep the stream well-formed above) but dropped
		}
		key := l.keyFor(p, basename)
		if _, exists := l.byKey[key]; exists {
			continue // first occurrence wins across merged repos
		}
		l.byKey[key] = p
	}
	return nil
}

func (l *Loader) keyFor(p *rpmfact.Package, basename string) string {
	switch l.key {
	case KeyName:
		return p.Name
	case KeyFilename:
		return basename
	default:
		return p.PkgID
	}
}

// MatchesCache reports whether a fresh candidate (identified by mtime,
// size, and checksum-type label) agrees with a cached Package Fact closely
// enough to be reused verbatim, per spec.md §4.6.2 step 1. When skipStat is
// true, any non-nil cached entry matches: mtime, size and checksum type are
// not compared.
func MatchesCache(cached *rpmfact.Package, skipStat bool, mtime, size int64, checksumType string) bool {
	if cached == nil {
		return false
	}
	if skipStat {
		return true
	}
	return cached.TimeFile == mtime && cached.SizePackage == size && string(cached.ChecksumType) == checksumType
}

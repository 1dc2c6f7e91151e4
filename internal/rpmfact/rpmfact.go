// Package rpmfact decodes a single RPM file into a Package Fact: the
// canonical in-memory record that flows through the build pipeline into
// the XML and SQLite emitters.
package rpmfact

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/sassoftware/go-rpmutils"

	"github.com/holocm/repoindex/internal/checksum"
)

// Flag is the comparison operator on a Dependency.
type Flag string

const (
	FlagNone Flag = ""
	FlagEQ   Flag = "EQ"
	FlagLT   Flag = "LT"
	FlagLE   Flag = "LE"
	FlagGT   Flag = "GT"
	FlagGE   Flag = "GE"
)

// Dependency is one entry of a Requires/Provides/Conflicts/Obsoletes set.
// Equality is deliberately strict on every field including Pre: two
// requires entries differing only in Pre are distinct and both kept, per
// the historical behavior this system preserves.
type Dependency struct {
	Name    string
	Flag    Flag
	Epoch   string
	Version string
	Release string
	Pre     bool
}

// FileType classifies a FileEntry for the primary-file predicate and for
// the filelists "type" attribute.
type FileType string

const (
	FileRegular FileType = ""
	FileDir     FileType = "dir"
	FileGhost   FileType = "ghost"
)

// FileEntry is one path owned by the package.
type FileEntry struct {
	Dir      string
	Basename string
	Type     FileType
}

// Path reassembles the full path of a FileEntry.
func (f FileEntry) Path() string {
	return path.Join(f.Dir, f.Basename)
}

// ChangelogEntry is one changelog record, newest generally listed first.
type ChangelogEntry struct {
	Author string
	Date   int64
	Text   string
}

// Package is the canonical per-package record ("Package Fact").
type Package struct {
	PkgID        string
	ChecksumType checksum.Algorithm
	Name         string
	Arch         string
	Epoch        string
	Version      string
	Release      string
	Summary      string
	Description  string
	URL          string
	License      string
	Vendor       string
	Group        string
	BuildHost    string
	Packager     string
	SourceRPM    string

	LocationHref string
	LocationBase string

	SizePackage   int64
	SizeInstalled int64
	SizeArchive   int64

	TimeFile  int64
	TimeBuild int64

	HeaderStart int64
	HeaderEnd   int64

	Requires   []Dependency
	Provides   []Dependency
	Conflicts  []Dependency
	Obsoletes  []Dependency
	Files      []FileEntry
	Changelogs []ChangelogEntry

	// Cached marks a fact reused from the old-metadata loader (C6) rather
	// than freshly decoded; the pipeline must not mutate it beyond
	// LocationHref/LocationBase.
	Cached bool
}

// Clone returns a shallow copy of p suitable for a worker to take ownership
// of when reusing a cached fact from the old-metadata loader's arena: the
// loader's own *Package must never be mutated or freed by the pipeline, so
// a cache hit clones before rewriting LocationHref/LocationBase to the
// package's current position.
func (p *Package) Clone() *Package {
	clone := *p
	clone.Requires = append([]Dependency(nil), p.Requires...)
	clone.Provides = append([]Dependency(nil), p.Provides...)
	clone.Conflicts = append([]Dependency(nil), p.Conflicts...)
	clone.Obsoletes = append([]Dependency(nil), p.Obsoletes...)
	clone.Files = append([]FileEntry(nil), p.Files...)
	clone.Changelogs = append([]ChangelogEntry(nil), p.Changelogs...)
	return &clone
}

// MalformedRpmError wraps any failure decoding RPM structure or tags.
type MalformedRpmError struct {
	Path string
	Err  error
}

func (e *MalformedRpmError) Error() string {
	return fmt.Sprintf("rpmfact: malformed RPM %s: %v", e.Path, e.Err)
}

func (e *MalformedRpmError) Unwrap() error { return e.Err }

// Options configures a single Extract call.
type Options struct {
	ChecksumAlgo   checksum.Algorithm
	LocationHref   string
	LocationBase   string
	ChangelogLimit int // 0 means "no changelog entries kept", negative means "unbounded"
}

// Extract decodes path into a Package Fact. It never mutates global state
// and is safe to call concurrently from multiple workers.
func Extract(path_ string, opts Options) (*Package, error) {
	f, err := os.Open(path_)
	if err != nil {
		return nil, &MalformedRpmError{Path: path_, Err: err}
	}
	defer f.Close()

	start, end, err := HeaderByteRange(f)
	if err != nil {
		return nil, &MalformedRpmError{Path: path_, Err: err}
	}

	if _, err := f.Seek(0, 0); err != nil {
		return nil, &MalformedRpmError{Path: path_, Err: err}
	}
	rpm, err := rpmutils.ReadRpm(f)
	if err != nil {
		return nil, &MalformedRpmError{Path: path_, Err: err}
	}

	algo := opts.ChecksumAlgo
	if algo == "" {
		algo = checksum.SHA256
	}
	pkgID, err := checksum.DigestFile(path_, algo)
	if err != nil {
		return nil, &MalformedRpmError{Path: path_, Err: err}
	}

	pkg := &Package{
		PkgID:        pkgID,
		ChecksumType: algo,
		Name:         getString(rpm, rpmutils.NAME),
		Arch:         getString(rpm, rpmutils.ARCH),
		Epoch:        getEpoch(rpm),
		Version:      getString(rpm, rpmutils.VERSION),
		Release:      getString(rpm, rpmutils.RELEASE),
		Summary:      getString(rpm, rpmutils.SUMMARY),
		Description:  getString(rpm, rpmutils.DESCRIPTION),
		URL:          getString(rpm, rpmutils.URL),
		License:      getString(rpm, rpmutils.LICENSE),
		Vendor:       getString(rpm, rpmutils.VENDOR),
		Group:        getString(rpm, rpmutils.GROUP),
		BuildHost:    getString(rpm, rpmutils.BUILDHOST),
		Packager:     getString(rpm, rpmutils.PACKAGER),
		SourceRPM:    getString(rpm, rpmutils.SOURCERPM),
		LocationHref: opts.LocationHref,
		LocationBase: opts.LocationBase,
		TimeBuild:    getInt(rpm, rpmutils.BUILDTIME),
		HeaderStart:  start,
		HeaderEnd:    end,
	}

	if fi, err := f.Stat(); err == nil {
		pkg.TimeFile = fi.ModTime().Unix()
		pkg.SizePackage = fi.Size()
	}
	pkg.SizeArchive = getInt(rpm, rpmutils.ARCHIVESIZE)
	pkg.SizeInstalled = sumFileSizes(rpm)

	pkg.Requires = dependencySet(rpm, rpmutils.REQUIRENAME, rpmutils.REQUIREVERSION, rpmutils.REQUIREFLAGS, true)
	pkg.Provides = dependencySet(rpm, rpmutils.PROVIDENAME, rpmutils.PROVIDEVERSION, rpmutils.PROVIDEFLAGS, false)
	pkg.Conflicts = dependencySet(rpm, rpmutils.CONFLICTNAME, rpmutils.CONFLICTVERSION, rpmutils.CONFLICTFLAGS, false)
	pkg.Obsoletes = dependencySet(rpm, rpmutils.OBSOLETENAME, rpmutils.OBSOLETEVERSION, rpmutils.OBSOLETEFLAGS, false)

	pkg.Files = fileEntries(rpm)
	pkg.Changelogs = changelogEntries(rpm, opts.ChangelogLimit)

	return pkg, nil
}

func getString(rpm *rpmutils.Rpm, tag int) string {
	val, err := rpm.Header.Get(tag)
	if err != nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	case []byte:
		return strings.TrimRight(string(v), "\x00")
	}
	return ""
}

func getInt(rpm *rpmutils.Rpm, tag int) int64 {
	val, err := rpm.Header.Get(tag)
	if err != nil {
		return 0
	}
	switch v := val.(type) {
	case []int32:
		if len(v) > 0 {
			return int64(v[0])
		}
	case []int64:
		if len(v) > 0 {
			return v[0]
		}
	case int32:
		return int64(v)
	case int64:
		return v
	}
	return 0
}

func getEpoch(rpm *rpmutils.Rpm) string {
	val, err := rpm.Header.Get(rpmutils.EPOCH)
	if err != nil {
		return "0"
	}
	if vs, ok := val.([]int32); ok && len(vs) > 0 {
		return fmt.Sprintf("%d", vs[0])
	}
	return "0"
}

func getStringSlice(rpm *rpmutils.Rpm, tag int) []string {
	val, err := rpm.Header.Get(tag)
	if err != nil {
		return nil
	}
	if ss, ok := val.([]string); ok {
		return ss
	}
	return nil
}

func getInt32Slice(rpm *rpmutils.Rpm, tag int) []int32 {
	val, err := rpm.Header.Get(tag)
	if err != nil {
		return nil
	}
	if is, ok := val.([]int32); ok {
		return is
	}
	return nil
}

func sumFileSizes(rpm *rpmutils.Rpm) int64 {
	sizes := getInt32Slice(rpm, rpmutils.FILESIZES)
	var total int64
	for _, s := range sizes {
		total += int64(s)
	}
	return total
}

// RPM sense bits (standard rpm.h values; createrepo_c decodes dependency
// flags the same way).
const (
	senseLess       = 1 << 1
	senseGreater    = 1 << 2
	senseEqual      = 1 << 3
	sensePrereq     = 1 << 6
	senseScriptPre  = 1 << 9
	senseScriptPost = 1 << 10
)

func flagFromBits(bits int32) Flag {
	switch {
	case bits&senseLess != 0 && bits&senseEqual != 0:
		return FlagLE
	case bits&senseGreater != 0 && bits&senseEqual != 0:
		return FlagGE
	case bits&senseLess != 0:
		return FlagLT
	case bits&senseGreater != 0:
		return FlagGT
	case bits&senseEqual != 0:
		return FlagEQ
	default:
		return FlagNone
	}
}

func isPre(bits int32) bool {
	return bits&(sensePrereq|senseScriptPre|senseScriptPost) != 0
}

func dependencySet(rpm *rpmutils.Rpm, nameTag, verTag, flagTag int, preAware bool) []Dependency {
	names := getStringSlice(rpm, nameTag)
	vers := getStringSlice(rpm, verTag)
	flags := getInt32Slice(rpm, flagTag)

	deps := make([]Dependency, 0, len(names))
	for i, name := range names {
		var bits int32
		if i < len(flags) {
			bits = flags[i]
		}
		var ver string
		if i < len(vers) {
			ver = vers[i]
		}
		epoch, version, release := splitEVR(ver)
		dep := Dependency{
			Name:    name,
			Flag:    flagFromBits(bits),
			Epoch:   epoch,
			Version: version,
			Release: release,
		}
		if preAware {
			dep.Pre = isPre(bits)
		}
		deps = append(deps, dep)
	}
	return deps
}

// splitEVR splits a dependency's combined version string, which go-rpmutils
// hands back already split per-field on newer headers but may present as
// "[epoch:]version[-release]" on older ones.
func splitEVR(raw string) (epoch, version, release string) {
	if raw == "" {
		return "", "", ""
	}
	rest := raw
	if idx := strings.IndexByte(rest, ':'); idx >= 0 {
		epoch = rest[:idx]
		rest = rest[idx+1:]
	}
	if idx := strings.IndexByte(rest, '-'); idx >= 0 {
		version = rest[:idx]
		release = rest[idx+1:]
	} else {
		version = rest
	}
	return epoch, version, release
}

func fileEntries(rpm *rpmutils.Rpm) []FileEntry {
	basenames := getStringSlice(rpm, rpmutils.BASENAMES)
	dirnames := getStringSlice(rpm, rpmutils.DIRNAMES)
	dirIndexes := getInt32Slice(rpm, rpmutils.DIRINDEXES)
	fileFlags := getInt32Slice(rpm, rpmutils.FILEFLAGS)
	fileModes := getInt32Slice(rpm, rpmutils.FILEMODES)

	entries := make([]FileEntry, 0, len(basenames))
	for i, base := range basenames {
		var dir string
		if i < len(dirIndexes) {
			idx := int(dirIndexes[i])
			if idx >= 0 && idx < len(dirnames) {
				dir = dirnames[idx]
			}
		}
		var flags, mode int32
		if i < len(fileFlags) {
			flags = fileFlags[i]
		}
		if i < len(fileModes) {
			mode = fileModes[i]
		}
		entries = append(entries, FileEntry{
			Dir:      dir,
			Basename: base,
			Type:     classifyFile(flags, mode),
		})
	}
	return entries
}

// RPM file-flags and file-mode bits used to classify entries.
const (
	rpmfileGhost = 1 << 6
	modeDirBits  = 0o40000 // S_IFDIR
	modeTypeMask = 0o170000
)

func classifyFile(flags, mode int32) FileType {
	if flags&rpmfileGhost != 0 {
		return FileGhost
	}
	if int32(mode)&modeTypeMask == modeDirBits {
		return FileDir
	}
	return FileRegular
}

func changelogEntries(rpm *rpmutils.Rpm, limit int) []ChangelogEntry {
	if limit == 0 {
		return nil
	}
	names := getStringSlice(rpm, rpmutils.CHANGELOGNAME)
	texts := getStringSlice(rpm, rpmutils.CHANGELOGTEXT)
	times := getInt32Slice(rpm, rpmutils.CHANGELOGTIME)

	entries := make([]ChangelogEntry, 0, len(names))
	for i, name := range names {
		var text string
		if i < len(texts) {
			text = texts[i]
		}
		var when int64
		if i < len(times) {
			when = int64(times[i])
		}
		entries = append(entries, ChangelogEntry{Author: name, Date: when, Text: text})
	}

	return limitChangelog(entries, limit)
}

// limitChangelog sorts entries newest-first and truncates to limit (0 or
// negative means unlimited). Split out of changelogEntries so it can be
// exercised directly without an *rpmutils.Rpm fixture.
func limitChangelog(entries []ChangelogEntry, limit int) []ChangelogEntry {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Date > entries[j].Date })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// IsPrimaryFile implements the "primary file set" predicate (spec §4.3):
// whether a file path should also appear in primary.xml, not just
// filelists.xml. It is intentionally literal.
func IsPrimaryFile(fullPath string) bool {
	if strings.HasPrefix(fullPath, "/etc/") {
		return true
	}
	if fullPath == "/usr/lib/sendmail" {
		return true
	}
	dir := path.Dir(fullPath)
	switch dir {
	case "/bin", "/sbin", "/usr/bin", "/usr/sbin":
		return true
	}
	return false
}

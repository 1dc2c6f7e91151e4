// Package xmlfmt renders and parses the three repository metadata XML
// streams — primary, filelists, other — plus the repomd.xml manifest that
// binds them together.
package xmlfmt

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/holocm/repoindex/internal/checksum"
	"github.com/holocm/repoindex/internal/rpmfact"
)

const (
	CommonNamespace     = "http://linux.duke.edu/metadata/common"
	RpmNamespace        = "http://linux.duke.edu/metadata/rpm"
	FilelistsNamespace  = "http://linux.duke.edu/metadata/filelists"
	OtherNamespace      = "http://linux.duke.edu/metadata/other"
	RepoNamespace       = "http://linux.duke.edu/metadata/repo"
	xmlHeader           = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"
)

// location mirrors the <location href="..." xml:base="..."/> element shared
// by primary.xml packages and repomd.xml data records.
type location struct {
	Href string `xml:"href,attr"`
	Base string `xml:"xml:base,attr,omitempty"`
}

type rpmVersion struct {
	Epoch string `xml:"epoch,attr"`
	Ver   string `xml:"ver,attr"`
	Rel   string `xml:"rel,attr"`
}

func versionOf(p *rpmfact.Package) rpmVersion {
	epoch := p.Epoch
	if epoch == "" {
		epoch = "0"
	}
	return rpmVersion{Epoch: epoch, Ver: p.Version, Rel: p.Release}
}

type depEntry struct {
	Name  string `xml:"name,attr"`
	Flags string `xml:"flags,attr,omitempty"`
	Epoch string `xml:"epoch,attr,omitempty"`
	Ver   string `xml:"ver,attr,omitempty"`
	Rel   string `xml:"rel,attr,omitempty"`
	Pre   string `xml:"pre,attr,omitempty"`
}

func entriesFromDeps(deps []rpmfact.Dependency) []depEntry {
	if len(deps) == 0 {
		return nil
	}
	out := make([]depEntry, 0, len(deps))
	for _, d := range deps {
		e := depEntry{
			Name:  d.Name,
			Flags: string(d.Flag),
			Epoch: d.Epoch,
			Ver:   d.Version,
			Rel:   d.Release,
		}
		if d.Pre {
			e.Pre = "1"
		}
		out = append(out, e)
	}
	return out
}

func depsFromEntries(entries []depEntry, preAware bool) []rpmfact.Dependency {
	if len(entries) == 0 {
		return nil
	}
	out := make([]rpmfact.Dependency, 0, len(entries))
	for _, e := range entries {
		d := rpmfact.Dependency{
			Name:    e.Name,
			Flag:    rpmfact.Flag(e.Flags),
			Epoch:   e.Epoch,
			Version: e.Ver,
			Release: e.Rel,
		}
		if preAware {
			d.Pre = e.Pre == "1"
		}
		out = append(out, d)
	}
	return out
}

// ---- primary.xml ----

type primaryDoc struct {
	XMLName  xml.Name         `xml:"metadata"`
	Xmlns    string           `xml:"xmlns,attr"`
	XmlnsRpm string           `xml:"xmlns:rpm,attr"`
	Count    int              `xml:"packages,attr"`
	Packages []primaryPackage `xml:"package"`
}

type primaryPackage struct {
	XMLName     xml.Name       `xml:"package"`
	Type        string         `xml:"type,attr"`
	Name        string         `xml:"name"`
	Arch        string         `xml:"arch"`
	Version     rpmVersion     `xml:"version"`
	Checksum    primaryChecksum `xml:"checksum"`
	Summary     string         `xml:"summary"`
	Description string         `xml:"description"`
	Packager    string         `xml:"packager"`
	URL         string         `xml:"url"`
	Time        primaryTime    `xml:"time"`
	Size        primarySize    `xml:"size"`
	Location    location       `xml:"location"`
	Format      primaryFormat  `xml:"format"`
}

type primaryChecksum struct {
	Type  string `xml:"type,attr"`
	PkgID string `xml:"pkgid,attr"`
	Value string `xml:",chardata"`
}

type primaryTime struct {
	File  int64 `xml:"file,attr"`
	Build int64 `xml:"build,attr"`
}

type primarySize struct {
	Package   int64 `xml:"package,attr"`
	Installed int64 `xml:"installed,attr"`
	Archive   int64 `xml:"archive,attr"`
}

type headerRange struct {
	Start int64 `xml:"start,attr"`
	End   int64 `xml:"end,attr"`
}

type primaryFormat struct {
	License     string       `xml:"rpm:license"`
	Vendor      string       `xml:"rpm:vendor"`
	Group       string       `xml:"rpm:group"`
	BuildHost   string       `xml:"rpm:buildhost"`
	SourceRPM   string       `xml:"rpm:sourcerpm"`
	HeaderRange headerRange  `xml:"rpm:header-range"`
	Provides    []depEntry   `xml:"rpm:provides>rpm:entry,omitempty"`
	Requires    []depEntry   `xml:"rpm:requires>rpm:entry,omitempty"`
	Conflicts   []depEntry   `xml:"rpm:conflicts>rpm:entry,omitempty"`
	Obsoletes   []depEntry   `xml:"rpm:obsoletes>rpm:entry,omitempty"`
	Files       []fileEntry  `xml:"file"`
}

type fileEntry struct {
	Type string `xml:"type,attr,omitempty"`
	Path string `xml:",chardata"`
}

func fileEntriesFor(files []rpmfact.FileEntry, filterPrimary bool) []fileEntry {
	out := make([]fileEntry, 0, len(files))
	for _, f := range files {
		full := f.Path()
		if filterPrimary && !rpmfact.IsPrimaryFile(full) {
			continue
		}
		out = append(out, fileEntry{Type: string(f.Type), Path: full})
	}
	return out
}

func filesFromEntries(entries []fileEntry) []rpmfact.FileEntry {
	out := make([]rpmfact.FileEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, FileEntryFromPath(e.Path, rpmfact.FileType(e.Type)))
	}
	return out
}

// FileEntryFromPath splits a full repo-relative file path back into the
// dir/basename pair rpmfact.FileEntry stores.
func FileEntryFromPath(fullPath string, t rpmfact.FileType) rpmfact.FileEntry {
	dir, base := splitDirBase(fullPath)
	return rpmfact.FileEntry{Dir: dir, Basename: base, Type: t}
}

func splitDirBase(fullPath string) (dir, base string) {
	idx := -1
	for i := len(fullPath) - 1; i >= 0; i-- {
		if fullPath[i] == '/' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", fullPath
	}
	if idx == 0 {
		return "/", fullPath[1:]
	}
	return fullPath[:idx], fullPath[idx+1:]
}

func toPrimaryPackage(p *rpmfact.Package) primaryPackage {
	return primaryPackage{
		Type:    "rpm",
		Name:    p.Name,
		Arch:    p.Arch,
		Version: versionOf(p),
		Checksum: primaryChecksum{
			Type:  p.ChecksumType.WireLabel(),
			PkgID: "YES",
			Value: p.PkgID,
		},
		Summary:     p.Summary,
		Description: p.Description,
		Packager:    p.Packager,
		URL:         p.URL,
		Time:        primaryTime{File: p.TimeFile, Build: p.TimeBuild},
		Size:        primarySize{Package: p.SizePackage, Installed: p.SizeInstalled, Archive: p.SizeArchive},
		Location:    location{Href: p.LocationHref, Base: p.LocationBase},
		Format: primaryFormat{
			License:     p.License,
			Vendor:      p.Vendor,
			Group:       p.Group,
			BuildHost:   p.BuildHost,
			SourceRPM:   p.SourceRPM,
			HeaderRange: headerRange{Start: p.HeaderStart, End: p.HeaderEnd},
			Provides:    entriesFromDeps(p.Provides),
			Requires:    entriesFromDeps(p.Requires),
			Conflicts:   entriesFromDeps(p.Conflicts),
			Obsoletes:   entriesFromDeps(p.Obsoletes),
			Files:       fileEntriesFor(p.Files, true),
		},
	}
}

// RenderPackagePrimary renders one Package Fact's <package> fragment for
// primary.xml (no root element — the pipeline writer assembles the root).
func RenderPackagePrimary(p *rpmfact.Package) ([]byte, error) {
	return xml.Marshal(toPrimaryPackage(p))
}

// RenderPrimaryRoot renders a complete primary.xml document from already
// rendered <package> fragments (used by single-shot callers like tests; the
// pipeline's streaming writer, which the merger also goes through, assembles
// the same shape incrementally instead of calling this).
func RenderPrimaryRoot(count int, packageFragments [][]byte) []byte {
	var buf bytes.Buffer
	buf.Write(PrimaryRootOpen(count))
	for _, frag := range packageFragments {
		buf.Write(frag)
		buf.WriteByte('\n')
	}
	buf.Write(PrimaryRootClose())
	return buf.Bytes()
}

// PrimaryRootOpen renders the opening tag of primary.xml for streaming
// writers that append one fragment at a time instead of calling RenderPrimaryRoot.
func PrimaryRootOpen(count int) []byte {
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	fmt.Fprintf(&buf, `<metadata xmlns=%q xmlns:rpm=%q packages="%d">`+"\n", CommonNamespace, RpmNamespace, count)
	return buf.Bytes()
}

// PrimaryRootClose renders the closing tag of primary.xml.
func PrimaryRootClose() []byte { return []byte("</metadata>\n") }

// ParsePrimary parses a complete primary.xml document.
func ParsePrimary(data []byte) ([]*rpmfact.Package, error) {
	var doc primaryDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, &MalformedXMLError{Err: err}
	}
	out := make([]*rpmfact.Package, 0, len(doc.Packages))
	for _, pp := range doc.Packages {
		p := &rpmfact.Package{
			Name:          pp.Name,
			Arch:          pp.Arch,
			Epoch:         pp.Version.Epoch,
			Version:       pp.Version.Ver,
			Release:       pp.Version.Rel,
			PkgID:         pp.Checksum.Value,
			Summary:       pp.Summary,
			Description:   pp.Description,
			Packager:      pp.Packager,
			URL:           pp.URL,
			TimeFile:      pp.Time.File,
			TimeBuild:     pp.Time.Build,
			SizePackage:   pp.Size.Package,
			SizeInstalled: pp.Size.Installed,
			SizeArchive:   pp.Size.Archive,
			LocationHref:  pp.Location.Href,
			LocationBase:  pp.Location.Base,
			License:       pp.Format.License,
			Vendor:        pp.Format.Vendor,
			Group:         pp.Format.Group,
			BuildHost:     pp.Format.BuildHost,
			SourceRPM:     pp.Format.SourceRPM,
			HeaderStart:   pp.Format.HeaderRange.Start,
			HeaderEnd:     pp.Format.HeaderRange.End,
			Provides:      depsFromEntries(pp.Format.Provides, false),
			Requires:      depsFromEntries(pp.Format.Requires, true),
			Conflicts:     depsFromEntries(pp.Format.Conflicts, false),
			Obsoletes:     depsFromEntries(pp.Format.Obsoletes, false),
			Files:         filesFromEntries(pp.Format.Files),
		}
		if algo, err := checksum.ParseAlgorithm(pp.Checksum.Type); err == nil {
			p.ChecksumType = algo
		}
		out = append(out, p)
	}
	return out, nil
}

// ---- filelists.xml ----

type filelistsDoc struct {
	XMLName  xml.Name           `xml:"filelists"`
	Xmlns    string             `xml:"xmlns,attr"`
	Count    int                `xml:"packages,attr"`
	Packages []filelistsPackage `xml:"package"`
}

type filelistsPackage struct {
	XMLName xml.Name    `xml:"package"`
	PkgID   string      `xml:"pkgid,attr"`
	Name    string      `xml:"name,attr"`
	Arch    string      `xml:"arch,attr"`
	Version rpmVersion  `xml:"version"`
	Files   []fileEntry `xml:"file"`
}

func RenderPackageFilelists(p *rpmfact.Package) ([]byte, error) {
	pkg := filelistsPackage{
		PkgID:   p.PkgID,
		Name:    p.Name,
		Arch:    p.Arch,
		Version: versionOf(p),
		Files:   fileEntriesFor(p.Files, false),
	}
	return xml.Marshal(pkg)
}

func RenderFilelistsRoot(count int, packageFragments [][]byte) []byte {
	var buf bytes.Buffer
	buf.Write(FilelistsRootOpen(count))
	for _, frag := range packageFragments {
		buf.Write(frag)
		buf.WriteByte('\n')
	}
	buf.Write(FilelistsRootClose())
	return buf.Bytes()
}

// FilelistsRootOpen renders the opening tag of filelists.xml for streaming writers.
func FilelistsRootOpen(count int) []byte {
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	fmt.Fprintf(&buf, `<filelists xmlns=%q packages="%d">`+"\n", FilelistsNamespace, count)
	return buf.Bytes()
}

// FilelistsRootClose renders the closing tag of filelists.xml.
func FilelistsRootClose() []byte { return []byte("</filelists>\n") }

func ParseFilelists(data []byte) ([]*rpmfact.Package, error) {
	var doc filelistsDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, &MalformedXMLError{Err: err}
	}
	out := make([]*rpmfact.Package, 0, len(doc.Packages))
	for _, fp := range doc.Packages {
		out = append(out, &rpmfact.Package{
			PkgID:   fp.PkgID,
			Name:    fp.Name,
			Arch:    fp.Arch,
			Epoch:   fp.Version.Epoch,
			Version: fp.Version.Ver,
			Release: fp.Version.Rel,
			Files:   filesFromEntries(fp.Files),
		})
	}
	return out, nil
}

// ---- other.xml ----

type otherDoc struct {
	XMLName  xml.Name       `xml:"otherdata"`
	Xmlns    string         `xml:"xmlns,attr"`
	Count    int            `xml:"packages,attr"`
	Packages []otherPackage `xml:"package"`
}

type otherPackage struct {
	XMLName    xml.Name          `xml:"package"`
	PkgID      string            `xml:"pkgid,attr"`
	Name       string            `xml:"name,attr"`
	Arch       string            `xml:"arch,attr"`
	Version    rpmVersion        `xml:"version"`
	Changelogs []changelogEntry  `xml:"changelog"`
}

type changelogEntry struct {
	Author string `xml:"author,attr"`
	Date   int64  `xml:"date,attr"`
	Text   string `xml:",chardata"`
}

func RenderPackageOther(p *rpmfact.Package) ([]byte, error) {
	pkg := otherPackage{
		PkgID:   p.PkgID,
		Name:    p.Name,
		Arch:    p.Arch,
		Version: versionOf(p),
	}
	for _, c := range p.Changelogs {
		pkg.Changelogs = append(pkg.Changelogs, changelogEntry{Author: c.Author, Date: c.Date, Text: c.Text})
	}
	return xml.Marshal(pkg)
}

func RenderOtherRoot(count int, packageFragments [][]byte) []byte {
	var buf bytes.Buffer
	buf.Write(OtherRootOpen(count))
	for _, frag := range packageFragments {
		buf.Write(frag)
		buf.WriteByte('\n')
	}
	buf.Write(OtherRootClose())
	return buf.Bytes()
}

// OtherRootOpen renders the opening tag of other.xml for streaming writers.
func OtherRootOpen(count int) []byte {
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	fmt.Fprintf(&buf, `<otherdata xmlns=%q packages="%d">`+"\n", OtherNamespace, count)
	return buf.Bytes()
}

// OtherRootClose renders the closing tag of other.xml.
func OtherRootClose() []byte { return []byte("</otherdata>\n") }

func ParseOther(data []byte) ([]*rpmfact.Package, error) {
	var doc otherDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, &MalformedXMLError{Err: err}
	}
	out := make([]*rpmfact.Package, 0, len(doc.Packages))
	for _, op := range doc.Packages {
		p := &rpmfact.Package{
			PkgID:   op.PkgID,
			Name:    op.Name,
			Arch:    op.Arch,
			Epoch:   op.Version.Epoch,
			Version: op.Version.Ver,
			Release: op.Version.Rel,
		}
		for _, c := range op.Changelogs {
			p.Changelogs = append(p.Changelogs, rpmfact.ChangelogEntry{Author: c.Author, Date: c.Date, Text: c.Text})
		}
		out = append(out, p)
	}
	return out, nil
}

// ---- repomd.xml ----

// RepoMD is the top-level manifest binding every produced artifact by
// checksum. RepoTags/ContentTags/DistroTags are free-form repo identity
// metadata carried forward from the previous generation on --update runs.
type RepoMD struct {
	Revision    string
	RepoTags    []string
	ContentTags []string
	DistroTags  []DistroTag
	Records     []RepoRecord
}

// DistroTag pairs an optional CPE id with a distro label.
type DistroTag struct {
	CPEID string
	Value string
}

// RepoRecord is one <data type="..."> entry.
type RepoRecord struct {
	Type           string
	ChecksumType   string
	Checksum       string
	OpenChecksumType string
	OpenChecksum   string
	LocationHref   string
	LocationBase   string
	Timestamp      int64
	Size           int64
	OpenSize       int64 // -1 means "omit open-size"
	DatabaseVersion int  // 0 means "omit database_version"
}

type repomdDoc struct {
	XMLName     xml.Name         `xml:"repomd"`
	Xmlns       string           `xml:"xmlns,attr"`
	XmlnsRpm    string           `xml:"xmlns:rpm,attr"`
	Revision    string           `xml:"revision"`
	RepoTags    []string         `xml:"tags>repo,omitempty"`
	ContentTags []string         `xml:"tags>content,omitempty"`
	DistroTags  []repomdDistro   `xml:"tags>distro,omitempty"`
	Data        []repomdData     `xml:"data"`
}

type repomdDistro struct {
	CPEID string `xml:"cpeid,attr,omitempty"`
	Value string `xml:",chardata"`
}

type repomdData struct {
	Type            string           `xml:"type,attr"`
	Checksum        repomdChecksum   `xml:"checksum"`
	OpenChecksum    *repomdChecksum  `xml:"open-checksum,omitempty"`
	Location        location         `xml:"location"`
	Timestamp       int64            `xml:"timestamp"`
	Size            int64            `xml:"size"`
	OpenSize        *int64           `xml:"open-size,omitempty"`
	DatabaseVersion *int             `xml:"database_version,omitempty"`
}

type repomdChecksum struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

// RenderRepoMD serializes a complete repomd.xml document.
func RenderRepoMD(md RepoMD) []byte {
	doc := repomdDoc{
		Xmlns:    RepoNamespace,
		XmlnsRpm: RpmNamespace,
		Revision: md.Revision,
		RepoTags: md.RepoTags,
		ContentTags: md.ContentTags,
	}
	for _, dt := range md.DistroTags {
		doc.DistroTags = append(doc.DistroTags, repomdDistro{CPEID: dt.CPEID, Value: dt.Value})
	}
	for _, rec := range md.Records {
		d := repomdData{
			Type:      rec.Type,
			Checksum:  repomdChecksum{Type: rec.ChecksumType, Value: rec.Checksum},
			Location:  location{Href: rec.LocationHref, Base: rec.LocationBase},
			Timestamp: rec.Timestamp,
			Size:      rec.Size,
		}
		if rec.OpenChecksum != "" {
			d.OpenChecksum = &repomdChecksum{Type: rec.OpenChecksumType, Value: rec.OpenChecksum}
		}
		if rec.OpenSize >= 0 {
			openSize := rec.OpenSize
			d.OpenSize = &openSize
		}
		if rec.DatabaseVersion > 0 {
			v := rec.DatabaseVersion
			d.DatabaseVersion = &v
		}
		doc.Data = append(doc.Data, d)
	}

	body, _ := xml.MarshalIndent(doc, "", "  ")
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	buf.Write(body)
	buf.WriteByte('\n')
	return buf.Bytes()
}

// ParseRepoMD parses a repomd.xml document.
func ParseRepoMD(data []byte) (RepoMD, error) {
	var doc repomdDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return RepoMD{}, &MalformedXMLError{Err: err}
	}
	md := RepoMD{
		Revision:    doc.Revision,
		RepoTags:    doc.RepoTags,
		ContentTags: doc.ContentTags,
	}
	for _, dt := range doc.DistroTags {
		md.DistroTags = append(md.DistroTags, DistroTag{CPEID: dt.CPEID, Value: dt.Value})
	}
	for _, d := range doc.Data {
		rec := RepoRecord{
			Type:         d.Type,
			ChecksumType: d.Checksum.Type,
			Checksum:     d.Checksum.Value,
			LocationHref: d.Location.Href,
			LocationBase: d.Location.Base,
			Timestamp:    d.Timestamp,
			Size:         d.Size,
			OpenSize:     -1,
		}
		if d.OpenChecksum != nil {
			rec.OpenChecksumType = d.OpenChecksum.Type
			rec.OpenChecksum = d.OpenChecksum.Value
		}
		if d.OpenSize != nil {
			rec.OpenSize = *d.OpenSize
		}
		if d.DatabaseVersion != nil {
			rec.DatabaseVersion = *d.DatabaseVersion
		}
		md.Records = append(md.Records, rec)
	}
	return md, nil
}

// FindRecord returns the first record of the given type, used by the
// old-metadata loader to locate each metadata stream before reading it.
func (md RepoMD) FindRecord(recordType string) (RepoRecord, bool) {
	for _, r := range md.Records {
		if r.Type == recordType {
			return r, true
		}
	}
	return RepoRecord{}, false
}

// MalformedXMLError wraps an XML decode failure. Its message reports the
// parser's line number when the wrapped error is an encoding/xml
// SyntaxError, which embeds one.
type MalformedXMLError struct {
	Err error
}

func (e *MalformedXMLError) Error() string {
	if se, ok := e.Err.(*xml.SyntaxError); ok {
		return fmt.Sprintf("xmlfmt: malformed XML at line %d: %v", se.Line, se.Msg)
	}
	return fmt.Sprintf("xmlfmt: malformed XML: %v", e.Err)
}

func (e *MalformedXMLError) Unwrap() error { return e.Err }

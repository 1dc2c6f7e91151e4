package merge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holocm/repoindex/internal/checksum"
	"github.com/holocm/repoindex/internal/compress"
	"github.com/holocm/repoindex/internal/config"
	"github.com/holocm/repoindex/internal/rpmfact"
	"github.com/holocm/repoindex/internal/xmlfmt"
)

func TestSrpmName(t *testing.T) {
	assert.Equal(t, "foo-bar", srpmName("foo-bar-1.2.3-4.el9.src.rpm"))
	assert.Equal(t, "baz", srpmName("baz-1.0-1.src.rpm"))
	assert.Equal(t, "weird", srpmName("weird"))
}

func TestAdmitRepoFirstKeepsEarliestRepo(t *testing.T) {
	first := repoPackage{pkg: &rpmfact.Package{Name: "foo", Arch: "x86_64", Version: "1"}, repoIndex: 0}
	second := repoPackage{pkg: &rpmfact.Package{Name: "foo", Arch: "x86_64", Version: "2"}, repoIndex: 1}

	out := admit([]repoPackage{second, first}, config.MergeRepoFirst)
	require.Len(t, out, 1)
	assert.Equal(t, "1", out[0].Version)
}

func TestAdmitTimestampKeepsNewest(t *testing.T) {
	older := repoPackage{pkg: &rpmfact.Package{Name: "foo", Arch: "x86_64", TimeFile: 100}}
	newer := repoPackage{pkg: &rpmfact.Package{Name: "foo", Arch: "x86_64", TimeFile: 200}}

	out := admit([]repoPackage{older, newer}, config.MergeTimestamp)
	require.Len(t, out, 1)
	assert.Equal(t, int64(200), out[0].TimeFile)
}

func TestAdmitNVRKeepsHighestVersion(t *testing.T) {
	low := repoPackage{pkg: &rpmfact.Package{Name: "foo", Arch: "x86_64", Version: "1.0", Release: "1"}}
	high := repoPackage{pkg: &rpmfact.Package{Name: "foo", Arch: "x86_64", Version: "2.0", Release: "1"}}

	out := admit([]repoPackage{low, high}, config.MergeNVR)
	require.Len(t, out, 1)
	assert.Equal(t, "2.0", out[0].Version)
}

func TestAdmitAllKeepsEveryDistinctNVRA(t *testing.T) {
	a := repoPackage{pkg: &rpmfact.Package{Name: "foo", Arch: "x86_64", Version: "1.0", Release: "1"}}
	b := repoPackage{pkg: &rpmfact.Package{Name: "foo", Arch: "x86_64", Version: "2.0", Release: "1"}}
	dup := repoPackage{pkg: &rpmfact.Package{Name: "foo", Arch: "x86_64", Version: "1.0", Release: "1"}}

	out := admit([]repoPackage{a, b, dup}, config.MergeAll)
	assert.Len(t, out, 2)
}

func TestMergeEndToEndBlockedAndArchFilter(t *testing.T) {
	repoA := t.TempDir()
	writeFixtureRepo(t, repoA, []*rpmfact.Package{
		{PkgID: "keep-id", Name: "keep", Arch: "x86_64", Version: "1", Release: "1", SourceRPM: "keep-1-1.src.rpm", LocationHref: "keep-1-1.x86_64.rpm"},
		{PkgID: "dropped-id", Name: "dropped", Arch: "x86_64", Version: "1", Release: "1", SourceRPM: "blocked-src-1-1.src.rpm", LocationHref: "dropped-1-1.x86_64.rpm"},
		{PkgID: "wrongarch-id", Name: "wrongarch", Arch: "i686", Version: "1", Release: "1", SourceRPM: "wrongarch-1-1.src.rpm", LocationHref: "wrongarch-1-1.i686.rpm"},
	})

	out, err := Merge(Options{
		Repos:    []string{repoA},
		ArchList: []string{"x86_64"},
		Method:   config.MergeRepoFirst,
		Blocked:  []string{"blocked-src"},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "keep", out[0].Name)
}

func writeFixtureRepo(t *testing.T, repoDir string, pkgs []*rpmfact.Package) {
	t.Helper()
	repodataDir := filepath.Join(repoDir, "repodata")
	require.NoError(t, os.MkdirAll(repodataDir, 0o755))

	writeStream := func(name string, open func(int) []byte, close func() []byte, render func(*rpmfact.Package) ([]byte, error)) xmlfmt.RepoRecord {
		w, err := compress.OpenWriteFile(filepath.Join(repodataDir, name), compress.Gzip)
		require.NoError(t, err)
		_, err = w.Write(open(len(pkgs)))
		require.NoError(t, err)
		for _, p := range pkgs {
			frag, err := render(p)
			require.NoError(t, err)
			_, err = w.Write(frag)
			require.NoError(t, err)
			_, err = w.Write([]byte("\n"))
			require.NoError(t, err)
		}
		_, err = w.Write(close())
		require.NoError(t, err)
		require.NoError(t, w.Close())
		return xmlfmt.RepoRecord{Type: strippedType(name), LocationHref: "repodata/" + name, ChecksumType: string(checksum.SHA256), Checksum: "ignored"}
	}

	records := []xmlfmt.RepoRecord{
		writeStream("primary.xml.gz", xmlfmt.PrimaryRootOpen, func() []byte { return xmlfmt.PrimaryRootClose() }, xmlfmt.RenderPackagePrimary),
		writeStream("filelists.xml.gz", xmlfmt.FilelistsRootOpen, func() []byte { return xmlfmt.FilelistsRootClose() }, xmlfmt.RenderPackageFilelists),
		writeStream("other.xml.gz", xmlfmt.OtherRootOpen, func() []byte { return xmlfmt.OtherRootClose() }, xmlfmt.RenderPackageOther),
	}

	doc := xmlfmt.RenderRepoMD(xmlfmt.RepoMD{Revision: "1", Records: records})
	require.NoError(t, os.WriteFile(filepath.Join(repodataDir, "repomd.xml"), doc, 0o644))
}

func strippedType(name string) string {
	switch {
	case name == "primary.xml.gz":
		return "primary"
	case name == "filelists.xml.gz":
		return "filelists"
	default:
		return "other"
	}
}

package xmlfmt

import (
	"strings"
	"testing"

	"github.com/holocm/repoindex/internal/checksum"
	"github.com/holocm/repoindex/internal/rpmfact"
)

func examplePackage() *rpmfact.Package {
	return &rpmfact.Package{
		PkgID:        "152824bff2aa6d54f429d43e87a3ff3a0286505c6d93ec87692b5e3a9e3b97bf",
		ChecksumType: checksum.SHA256,
		Name:         "super_kernel",
		Arch:         "x86_64",
		Epoch:        "0",
		Version:      "6.0.1",
		Release:      "2",
		Summary:      "A fake kernel",
		Description:  "A fake kernel for testing.",
		License:      "GPLv2",
		LocationHref: "super_kernel-6.0.1-2.x86_64.rpm",
		HeaderStart:  280,
		HeaderEnd:    2637,
		Requires: []rpmfact.Dependency{
			{Name: "glibc", Flag: rpmfact.FlagGE, Version: "2.17"},
			{Name: "/bin/sh", Pre: true},
		},
		Files: []rpmfact.FileEntry{
			{Dir: "/etc", Basename: "super_kernel.conf"},
			{Dir: "/usr/lib/modules", Basename: "super_kernel.ko"},
		},
	}
}

func TestRenderPackagePrimaryContainsHeaderRange(t *testing.T) {
	frag, err := RenderPackagePrimary(examplePackage())
	if err != nil {
		t.Fatal(err)
	}
	s := string(frag)
	if !strings.Contains(s, `start="280"`) || !strings.Contains(s, `end="2637"`) {
		t.Errorf("missing header-range attributes: %s", s)
	}
	if !strings.Contains(s, `pre="1"`) {
		t.Errorf("expected pre=\"1\" on the prereq dependency: %s", s)
	}
}

func TestPrimaryFileFilterExcludesNonPrimaryPaths(t *testing.T) {
	frag, err := RenderPackagePrimary(examplePackage())
	if err != nil {
		t.Fatal(err)
	}
	s := string(frag)
	if !strings.Contains(s, "super_kernel.conf") {
		t.Errorf("expected /etc file to survive primary filter: %s", s)
	}
	if strings.Contains(s, "super_kernel.ko") {
		t.Errorf("expected /usr/lib/modules file to be excluded from primary: %s", s)
	}
}

func TestFilelistsIncludesAllFiles(t *testing.T) {
	frag, err := RenderPackageFilelists(examplePackage())
	if err != nil {
		t.Fatal(err)
	}
	s := string(frag)
	if !strings.Contains(s, "super_kernel.conf") || !strings.Contains(s, "super_kernel.ko") {
		t.Errorf("filelists should include every file unfiltered: %s", s)
	}
}

func TestEmptyPrimaryRootMatchesS1Scenario(t *testing.T) {
	got := string(RenderPrimaryRoot(0, nil))
	want := "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n" +
		"<metadata xmlns=\"http://linux.duke.edu/metadata/common\" xmlns:rpm=\"http://linux.duke.edu/metadata/rpm\" packages=\"0\">\n" +
		"</metadata>\n"
	if got != want {
		t.Errorf("empty primary root =\n%q\nwant\n%q", got, want)
	}
}

func TestPrimaryRoundTrip(t *testing.T) {
	pkg := examplePackage()
	frag, err := RenderPackagePrimary(pkg)
	if err != nil {
		t.Fatal(err)
	}
	doc := RenderPrimaryRoot(1, [][]byte{frag})

	parsed, err := ParsePrimary(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(parsed) != 1 {
		t.Fatalf("got %d packages, want 1", len(parsed))
	}
	got := parsed[0]
	if got.Name != pkg.Name || got.Version != pkg.Version || got.Release != pkg.Release {
		t.Errorf("round trip NVR mismatch: got %+v", got)
	}
	if got.HeaderStart != 280 || got.HeaderEnd != 2637 {
		t.Errorf("round trip header range mismatch: got [%d,%d)", got.HeaderStart, got.HeaderEnd)
	}
	if len(got.Requires) != 2 || !got.Requires[1].Pre {
		t.Errorf("round trip dependency pre-flag mismatch: %+v", got.Requires)
	}
}

func TestRepoMDRoundTrip(t *testing.T) {
	md := RepoMD{
		Revision: "1735689600",
		RepoTags: []string{"fedora-40"},
		DistroTags: []DistroTag{
			{CPEID: "cpe:/o:fedoraproject:fedora:40", Value: "Fedora 40"},
		},
		Records: []RepoRecord{
			{
				Type:             "primary",
				ChecksumType:     "sha256",
				Checksum:         "abc123",
				OpenChecksumType: "sha256",
				OpenChecksum:     "def456",
				LocationHref:     "repodata/abc123-primary.xml.gz",
				Timestamp:        1735689600,
				Size:             1024,
				OpenSize:         4096,
			},
			{
				Type:            "primary_db",
				ChecksumType:    "sha256",
				Checksum:        "dbsum",
				LocationHref:    "repodata/dbsum-primary.sqlite.bz2",
				Timestamp:       1735689600,
				Size:            2048,
				OpenSize:        -1,
				DatabaseVersion: 10,
			},
		},
	}

	doc := RenderRepoMD(md)
	parsed, err := ParseRepoMD(doc)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Revision != md.Revision {
		t.Errorf("Revision = %q, want %q", parsed.Revision, md.Revision)
	}
	if len(parsed.DistroTags) != 1 || parsed.DistroTags[0].CPEID != "cpe:/o:fedoraproject:fedora:40" {
		t.Errorf("DistroTags round trip mismatch: %+v", parsed.DistroTags)
	}
	primary, ok := parsed.FindRecord("primary")
	if !ok {
		t.Fatal("expected a primary record")
	}
	if primary.OpenSize != 4096 {
		t.Errorf("primary OpenSize = %d, want 4096", primary.OpenSize)
	}
	db, ok := parsed.FindRecord("primary_db")
	if !ok {
		t.Fatal("expected a primary_db record")
	}
	if db.OpenSize != -1 {
		t.Errorf("primary_db OpenSize should be omitted (-1), got %d", db.OpenSize)
	}
	if db.DatabaseVersion != 10 {
		t.Errorf("primary_db DatabaseVersion = %d, want 10", db.DatabaseVersion)
	}
}

func TestSplitDirBase(t *testing.T) {
	cases := []struct {
		path     string
		wantDir  string
		wantBase string
	}{
		{"/etc/fstab", "/etc", "fstab"},
		{"/usr/lib/sendmail", "/usr/lib", "sendmail"},
		{"toplevel", "", "toplevel"},
	}
	for _, c := range cases {
		dir, base := splitDirBase(c.path)
		if dir != c.wantDir || base != c.wantBase {
			t.Errorf("splitDirBase(%q) = (%q,%q), want (%q,%q)", c.path, dir, base, c.wantDir, c.wantBase)
		}
	}
}

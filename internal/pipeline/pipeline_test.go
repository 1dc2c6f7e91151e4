package pipeline

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/holocm/repoindex/internal/checksum"
	"github.com/holocm/repoindex/internal/compress"
	"github.com/holocm/repoindex/internal/config"
	"github.com/holocm/repoindex/internal/rpmfact"
)

func fakePackage(name string) *rpmfact.Package {
	return &rpmfact.Package{
		PkgID:        "id-" + name,
		ChecksumType: checksum.SHA256,
		Name:         name,
		Arch:         "x86_64",
		Version:      "1.0",
		Release:      "1",
		Epoch:        "0",
		LocationHref: name + ".rpm",
		Files: []rpmfact.FileEntry{
			{Dir: "/usr/bin", Basename: name},
		},
	}
}

func gzipPackagesAttr(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	r, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// TestRunFactsOrdersAcrossAllThreeSinks drives a handful of facts through
// RunFacts (C7's entry point when the facts are already resolved, as the
// merger uses it) and checks that all three streams came out with the true
// package count and in basename order, and that the plain primary.sqlite is
// removed once it has been compressed.
func TestRunFactsOrdersAcrossAllThreeSinks(t *testing.T) {
	facts := []*rpmfact.Package{
		fakePackage("zebra"),
		fakePackage("apple"),
		fakePackage("mango"),
	}
	staging := t.TempDir()
	opts := Options{
		ChecksumAlgo:   checksum.SHA256,
		Workers:        3,
		Database:       true,
		DBCompressType: compress.Gzip,
		Logger:         config.NewLogger("error"),
	}

	result, err := RunFacts(context.Background(), staging, facts, opts)
	if err != nil {
		t.Fatalf("RunFacts: %v", err)
	}
	if result.PackageCount != 3 {
		t.Errorf("PackageCount = %d, want 3", result.PackageCount)
	}

	for _, path := range []string{result.Primary.XMLPath, result.Filelists.XMLPath, result.Other.XMLPath} {
		body := gzipPackagesAttr(t, path)
		if !containsAttr(body, `packages="3"`) {
			t.Errorf("%s: root packages attribute does not read 3: %s", path, body[:minInt(len(body), 200)])
		}
	}

	// facts are reordered by basename before rendering, so apple (id 0)
	// must appear before mango, which must appear before zebra, in every
	// stream. Each stream carries the package's pkgid, so search for that.
	for _, path := range []string{result.Primary.XMLPath, result.Filelists.XMLPath, result.Other.XMLPath} {
		body := gzipPackagesAttr(t, path)
		iApple := indexOf(body, `id-apple`)
		iMango := indexOf(body, `id-mango`)
		iZebra := indexOf(body, `id-zebra`)
		if !(iApple < iMango && iMango < iZebra) {
			t.Errorf("%s: packages not written in basename order: apple=%d mango=%d zebra=%d", path, iApple, iMango, iZebra)
		}
	}

	// primary.sqlite is compressed and the plain file removed once Close
	// finalizes the stream.
	if _, err := os.Stat(filepath.Join(staging, "primary.sqlite")); err == nil {
		t.Error("plain primary.sqlite should have been removed after compression")
	}
}

// TestOrderedWriterDropsFailedTaskButAdvancesCursors is the regression test
// for the packages="N"/PackageCount overcount: a worker-local failure must
// be omitted from every sink's output while still letting the other tasks'
// cursors advance, and WrittenCount must reflect only the tasks that
// actually landed in all three sinks (spec.md §8 property 2).
func TestOrderedWriterDropsFailedTaskButAdvancesCursors(t *testing.T) {
	staging := t.TempDir()
	const total = 3
	streams, err := openStreams(staging, total, Options{ChecksumAlgo: checksum.SHA256})
	if err != nil {
		t.Fatalf("openStreams: %v", err)
	}
	ow := newOrderedWriter(streams.primary, streams.filelists, streams.other, total)

	ok0 := &pendingResult{id: 0, pkg: fakePackage("first"), frag: fragments{
		primary:   []byte(`<package id="0"/>`),
		filelists: []byte(`<package id="0"/>`),
		other:     []byte(`<package id="0"/>`),
	}}
	failed1 := &pendingResult{id: 1, werr: errTest("unreadable rpm")}
	ok2 := &pendingResult{id: 2, pkg: fakePackage("third"), frag: fragments{
		primary:   []byte(`<package id="2"/>`),
		filelists: []byte(`<package id="2"/>`),
		other:     []byte(`<package id="2"/>`),
	}}

	// Submitted on-turn (id 0, 1, 2 in order): each call writes immediately
	// rather than blocking on a cursor, since nothing else will ever submit
	// the missing ids in this single-goroutine test.
	if err := ow.Submit(ok0); err != nil {
		t.Fatalf("Submit(0): %v", err)
	}
	if err := ow.Submit(failed1); err != nil {
		t.Fatalf("Submit(1): %v", err)
	}
	if err := ow.Submit(ok2); err != nil {
		t.Fatalf("Submit(2): %v", err)
	}

	if got := ow.WrittenCount(); got != 2 {
		t.Errorf("WrittenCount() = %d, want 2 (failed task must not count)", got)
	}

	written := ow.WrittenCount()
	result, err := streams.close(Options{ChecksumAlgo: checksum.SHA256}, written)
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	body := gzipPackagesAttr(t, result.Primary.XMLPath)
	if !containsAttr(body, `packages="2"`) {
		t.Errorf("root packages attribute not rewritten to 2: %s", body[:minInt(len(body), 200)])
	}
	if containsAttr(body, `id="1"`) {
		t.Error("failed task's fragment must not appear in the output")
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }

func containsAttr(haystack, needle string) bool { return indexOf(haystack, needle) >= 0 }

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

package sqlitedb

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/holocm/repoindex/internal/checksum"
	"github.com/holocm/repoindex/internal/rpmfact"
)

func examplePackage() *rpmfact.Package {
	return &rpmfact.Package{
		PkgID:        "abc123",
		ChecksumType: checksum.SHA256,
		Name:         "fake_bash",
		Arch:         "x86_64",
		Version:      "1.1.1",
		Release:      "1",
		Epoch:        "0",
		Requires: []rpmfact.Dependency{
			{Name: "glibc", Flag: rpmfact.FlagGE, Version: "2.17"},
		},
		Files: []rpmfact.FileEntry{
			{Dir: "/etc", Basename: "bashrc"},
			{Dir: "/bin", Basename: "bash"},
		},
		Changelogs: []rpmfact.ChangelogEntry{
			{Author: "dev", Date: 1000, Text: "initial"},
		},
	}
}

func TestPrimaryInsertAndClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "primary.sqlite")
	w, err := OpenPrimary(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.InsertPrimary(0, examplePackage()); err != nil {
		t.Fatal(err)
	}
	if err := w.Close("deadbeef"); err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM packages`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("packages count = %d, want 1", count)
	}

	var version int
	var dbChecksum string
	if err := db.QueryRow(`SELECT dbversion, checksum FROM db_info`).Scan(&version, &dbChecksum); err != nil {
		t.Fatal(err)
	}
	if version != SchemaVersion {
		t.Errorf("dbversion = %d, want %d", version, SchemaVersion)
	}
	if dbChecksum != "deadbeef" {
		t.Errorf("checksum = %q, want %q", dbChecksum, "deadbeef")
	}

	var reqCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM requires`).Scan(&reqCount); err != nil {
		t.Fatal(err)
	}
	if reqCount != 1 {
		t.Errorf("requires count = %d, want 1", reqCount)
	}
}

func TestFilelistsBatchesPerDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "filelists.sqlite")
	w, err := OpenFilelists(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.InsertFilelists(0, examplePackage()); err != nil {
		t.Fatal(err)
	}
	if err := w.Close("feedface"); err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var rows int
	if err := db.QueryRow(`SELECT COUNT(*) FROM filelist`).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 2 {
		t.Errorf("filelist rows = %d, want 2 (one per distinct directory)", rows)
	}
}

func TestOtherInsertsChangelog(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "other.sqlite")
	w, err := OpenOther(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.InsertOther(0, examplePackage()); err != nil {
		t.Fatal(err)
	}
	if err := w.Close("cafef00d"); err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var text string
	if err := db.QueryRow(`SELECT changelog FROM changelog`).Scan(&text); err != nil {
		t.Fatal(err)
	}
	if text != "initial" {
		t.Errorf("changelog text = %q, want %q", text, "initial")
	}
}

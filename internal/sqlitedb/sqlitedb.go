// Package sqlitedb mirrors the primary/filelists/other metadata into three
// SQLite databases via prepared-statement batches, matching the wire
// schema (version 10) that repository clients expect alongside the XML
// streams.
package sqlitedb

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/holocm/repoindex/internal/rpmfact"
)

const SchemaVersion = 10

// SqliteError wraps a database/sql failure with the operation that caused
// it, matching spec.md's Sqlite(code) error kind.
type SqliteError struct {
	Op  string
	Err error
}

func (e *SqliteError) Error() string { return fmt.Sprintf("sqlitedb: %s: %v", e.Op, e.Err) }
func (e *SqliteError) Unwrap() error { return e.Err }

// Writer owns one SQLite database (primary, filelists, or other) and the
// single writer transaction that spans the whole build.
type Writer struct {
	kind string
	db   *sql.DB
	tx   *sql.Tx
	next int64

	insertPackage *sql.Stmt
	insertRel     map[string]*sql.Stmt // primary only: requires/provides/conflicts/obsoletes
	insertFile    *sql.Stmt            // primary: filtered files; filelists: all files batched per directory
	insertChange  *sql.Stmt            // other only
}

// OpenPrimary creates (or truncates) a primary.sqlite database and begins
// its writer transaction.
func OpenPrimary(path string) (*Writer, error) {
	return open(path, "primary", primarySchema, preparePrimary)
}

// OpenFilelists creates (or truncates) a filelists.sqlite database.
func OpenFilelists(path string) (*Writer, error) {
	return open(path, "filelists", filelistsSchema, prepareFilelists)
}

// OpenOther creates (or truncates) an other.sqlite database.
func OpenOther(path string) (*Writer, error) {
	return open(path, "other", otherSchema, prepareOther)
}

type prepareFunc func(tx *sql.Tx) (*Writer, error)

func open(path, kind, schema string, prepare prepareFunc) (*Writer, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &SqliteError{Op: "open", Err: err}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &SqliteError{Op: "create schema", Err: err}
	}
	tx, err := db.Begin()
	if err != nil {
		db.Close()
		return nil, &SqliteError{Op: "begin transaction", Err: err}
	}
	w, err := prepare(tx)
	if err != nil {
		tx.Rollback()
		db.Close()
		return nil, err
	}
	w.kind = kind
	w.db = db
	w.tx = tx
	return w, nil
}

const primarySchema = `
CREATE TABLE packages (
	pkgKey INTEGER PRIMARY KEY,
	pkgId TEXT, name TEXT, arch TEXT, version TEXT, epoch TEXT, release TEXT,
	summary TEXT, description TEXT, url TEXT,
	time_file INTEGER, time_build INTEGER,
	rpm_license TEXT, rpm_vendor TEXT, rpm_group TEXT, rpm_buildhost TEXT, rpm_sourcerpm TEXT,
	rpm_header_start INTEGER, rpm_header_end INTEGER,
	size_package INTEGER, size_installed INTEGER, size_archive INTEGER,
	location_href TEXT, location_base TEXT,
	checksum_type TEXT
);
CREATE TABLE requires (pkgKey INTEGER, name TEXT, flags TEXT, epoch TEXT, version TEXT, release TEXT, pre TEXT);
CREATE TABLE provides (pkgKey INTEGER, name TEXT, flags TEXT, epoch TEXT, version TEXT, release TEXT);
CREATE TABLE conflicts (pkgKey INTEGER, name TEXT, flags TEXT, epoch TEXT, version TEXT, release TEXT);
CREATE TABLE obsoletes (pkgKey INTEGER, name TEXT, flags TEXT, epoch TEXT, version TEXT, release TEXT);
CREATE TABLE files (pkgKey INTEGER, name TEXT, type TEXT);
CREATE TABLE db_info (dbversion INTEGER, checksum TEXT);
`

const filelistsSchema = `
CREATE TABLE packages (pkgKey INTEGER PRIMARY KEY, pkgId TEXT);
CREATE TABLE filelist (pkgKey INTEGER, dirname TEXT, filenames TEXT, filetypes TEXT);
CREATE TABLE db_info (dbversion INTEGER, checksum TEXT);
`

const otherSchema = `
CREATE TABLE packages (pkgKey INTEGER PRIMARY KEY, pkgId TEXT, name TEXT, arch TEXT, version TEXT, epoch TEXT, release TEXT);
CREATE TABLE changelog (pkgKey INTEGER, author TEXT, date INTEGER, changelog TEXT);
CREATE TABLE db_info (dbversion INTEGER, checksum TEXT);
`

func preparePrimary(tx *sql.Tx) (*Writer, error) {
	insertPackage, err := tx.Prepare(`INSERT INTO packages
		(pkgKey, pkgId, name, arch, version, epoch, release, summary, description, url,
		 time_file, time_build, rpm_license, rpm_vendor, rpm_group, rpm_buildhost, rpm_sourcerpm,
		 rpm_header_start, rpm_header_end, size_package, size_installed, size_archive,
		 location_href, location_base, checksum_type)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return nil, &SqliteError{Op: "prepare packages insert", Err: err}
	}

	rel := map[string]*sql.Stmt{}
	for _, table := range []string{"requires", "provides", "conflicts", "obsoletes"} {
		cols := "(pkgKey, name, flags, epoch, version, release)"
		placeholders := "(?,?,?,?,?,?)"
		if table == "requires" {
			cols = "(pkgKey, name, flags, epoch, version, release, pre)"
			placeholders = "(?,?,?,?,?,?,?)"
		}
		stmt, err := tx.Prepare(fmt.Sprintf("INSERT INTO %s %s VALUES %s", table, cols, placeholders))
		if err != nil {
			return nil, &SqliteError{Op: "prepare " + table + " insert", Err: err}
		}
		rel[table] = stmt
	}

	insertFile, err := tx.Prepare(`INSERT INTO files (pkgKey, name, type) VALUES (?,?,?)`)
	if err != nil {
		return nil, &SqliteError{Op: "prepare files insert", Err: err}
	}

	return &Writer{insertPackage: insertPackage, insertRel: rel, insertFile: insertFile}, nil
}

func prepareFilelists(tx *sql.Tx) (*Writer, error) {
	insertPackage, err := tx.Prepare(`INSERT INTO packages (pkgKey, pkgId) VALUES (?,?)`)
	if err != nil {
		return nil, &SqliteError{Op: "prepare packages insert", Err: err}
	}
	insertFile, err := tx.Prepare(`INSERT INTO filelist (pkgKey, dirname, filenames, filetypes) VALUES (?,?,?,?)`)
	if err != nil {
		return nil, &SqliteError{Op: "prepare filelist insert", Err: err}
	}
	return &Writer{insertPackage: insertPackage, insertFile: insertFile}, nil
}

func prepareOther(tx *sql.Tx) (*Writer, error) {
	insertPackage, err := tx.Prepare(`INSERT INTO packages (pkgKey, pkgId, name, arch, version, epoch, release) VALUES (?,?,?,?,?,?,?)`)
	if err != nil {
		return nil, &SqliteError{Op: "prepare packages insert", Err: err}
	}
	insertChange, err := tx.Prepare(`INSERT INTO changelog (pkgKey, author, date, changelog) VALUES (?,?,?,?)`)
	if err != nil {
		return nil, &SqliteError{Op: "prepare changelog insert", Err: err}
	}
	return &Writer{insertPackage: insertPackage, insertChange: insertChange}, nil
}

// InsertPrimary appends one Package Fact's primary-schema row batch. pkgKey
// must match the package's position in all three sinks (the pipeline task
// id), keeping `pkgKey` joins consistent across databases.
func (w *Writer) InsertPrimary(pkgKey int64, p *rpmfact.Package) error {
	_, err := w.insertPackage.Exec(pkgKey, p.PkgID, p.Name, p.Arch, p.Version, p.Epoch, p.Release,
		p.Summary, p.Description, p.URL, p.TimeFile, p.TimeBuild,
		p.License, p.Vendor, p.Group, p.BuildHost, p.SourceRPM,
		p.HeaderStart, p.HeaderEnd, p.SizePackage, p.SizeInstalled, p.SizeArchive,
		p.LocationHref, p.LocationBase, p.ChecksumType.WireLabel())
	if err != nil {
		return &SqliteError{Op: "insert primary package", Err: err}
	}

	for _, d := range p.Requires {
		if _, err := w.insertRel["requires"].Exec(pkgKey, d.Name, string(d.Flag), d.Epoch, d.Version, d.Release, preString(d.Pre)); err != nil {
			return &SqliteError{Op: "insert requires", Err: err}
		}
	}
	for _, d := range p.Provides {
		if _, err := w.insertRel["provides"].Exec(pkgKey, d.Name, string(d.Flag), d.Epoch, d.Version, d.Release); err != nil {
			return &SqliteError{Op: "insert provides", Err: err}
		}
	}
	for _, d := range p.Conflicts {
		if _, err := w.insertRel["conflicts"].Exec(pkgKey, d.Name, string(d.Flag), d.Epoch, d.Version, d.Release); err != nil {
			return &SqliteError{Op: "insert conflicts", Err: err}
		}
	}
	for _, d := range p.Obsoletes {
		if _, err := w.insertRel["obsoletes"].Exec(pkgKey, d.Name, string(d.Flag), d.Epoch, d.Version, d.Release); err != nil {
			return &SqliteError{Op: "insert obsoletes", Err: err}
		}
	}
	for _, f := range p.Files {
		if !rpmfact.IsPrimaryFile(f.Path()) {
			continue
		}
		if _, err := w.insertFile.Exec(pkgKey, f.Path(), string(f.Type)); err != nil {
			return &SqliteError{Op: "insert file", Err: err}
		}
	}
	return nil
}

func preString(pre bool) string {
	if pre {
		return "1"
	}
	return "0"
}

// InsertFilelists appends one Package Fact's filelists-schema row, batching
// every file into one (dirname, filenames, filetypes) triple per directory
// the way createrepo_c's filelist table does, to keep row count small.
func (w *Writer) InsertFilelists(pkgKey int64, p *rpmfact.Package) error {
	if _, err := w.insertPackage.Exec(pkgKey, p.PkgID); err != nil {
		return &SqliteError{Op: "insert filelists package", Err: err}
	}

	byDir := map[string][]rpmfact.FileEntry{}
	var dirOrder []string
	for _, f := range p.Files {
		if _, ok := byDir[f.Dir]; !ok {
			dirOrder = append(dirOrder, f.Dir)
		}
		byDir[f.Dir] = append(byDir[f.Dir], f)
	}
	for _, dir := range dirOrder {
		entries := byDir[dir]
		names := make([]byte, 0, 64)
		types := make([]byte, 0, len(entries))
		for i, e := range entries {
			if i > 0 {
				names = append(names, '/')
			}
			names = append(names, e.Basename...)
			types = append(types, fileTypeChar(e.Type))
		}
		if _, err := w.insertFile.Exec(pkgKey, dir, string(names), string(types)); err != nil {
			return &SqliteError{Op: "insert filelist row", Err: err}
		}
	}
	return nil
}

func fileTypeChar(t rpmfact.FileType) byte {
	switch t {
	case rpmfact.FileDir:
		return 'd'
	case rpmfact.FileGhost:
		return 'g'
	default:
		return 'f'
	}
}

// InsertOther appends one Package Fact's other-schema row and changelog.
func (w *Writer) InsertOther(pkgKey int64, p *rpmfact.Package) error {
	_, err := w.insertPackage.Exec(pkgKey, p.PkgID, p.Name, p.Arch, p.Version, p.Epoch, p.Release)
	if err != nil {
		return &SqliteError{Op: "insert other package", Err: err}
	}
	for _, c := range p.Changelogs {
		if _, err := w.insertChange.Exec(pkgKey, c.Author, c.Date, c.Text); err != nil {
			return &SqliteError{Op: "insert changelog", Err: err}
		}
	}
	return nil
}

// Close finalizes db_info with the XML checksum, commits the writer
// transaction, and builds indexes. It must be called exactly once, after
// every insert for this database has completed.
func (w *Writer) Close(xmlChecksumHex string) error {
	if _, err := w.tx.Exec(`INSERT INTO db_info (dbversion, checksum) VALUES (?, ?)`, SchemaVersion, xmlChecksumHex); err != nil {
		w.tx.Rollback()
		w.db.Close()
		return &SqliteError{Op: "insert db_info", Err: err}
	}
	if err := w.tx.Commit(); err != nil {
		w.db.Close()
		return &SqliteError{Op: "commit", Err: err}
	}
	if err := w.buildIndexes(); err != nil {
		w.db.Close()
		return err
	}
	return w.db.Close()
}

func (w *Writer) buildIndexes() error {
	var stmts []string
	switch w.kind {
	case "primary":
		stmts = []string{
			`CREATE INDEX packagename ON packages (name)`,
			`CREATE INDEX packageId ON packages (pkgId)`,
			`CREATE INDEX requiresname ON requires (name)`,
			`CREATE INDEX providesname ON provides (name)`,
			`CREATE INDEX filenames ON files (name)`,
			`CREATE INDEX pkgrequires ON requires (pkgKey)`,
			`CREATE INDEX pkgprovides ON provides (pkgKey)`,
			`CREATE INDEX pkgconflicts ON conflicts (pkgKey)`,
			`CREATE INDEX pkgobsoletes ON obsoletes (pkgKey)`,
			`CREATE INDEX pkgfiles ON files (pkgKey)`,
		}
	case "filelists":
		stmts = []string{
			`CREATE INDEX pkgId ON packages (pkgId)`,
			`CREATE INDEX dirnames ON filelist (dirname)`,
			`CREATE INDEX keyfile ON filelist (pkgKey)`,
		}
	case "other":
		stmts = []string{
			`CREATE INDEX pkgId ON packages (pkgId)`,
			`CREATE INDEX keychange ON changelog (pkgKey)`,
		}
	}
	for _, s := range stmts {
		if _, err := w.db.Exec(s); err != nil {
			return &SqliteError{Op: "create index", Err: err}
		}
	}
	return nil
}

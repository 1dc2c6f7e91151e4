// Package manifest implements the manifest builder (C8): turning the files
// the pipeline produced into repomd.xml <data> records (content-addressed
// checksums, sizes, optional unique-filename renaming) and rendering the
// final repomd.xml document.
package manifest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/holocm/repoindex/internal/checksum"
	"github.com/holocm/repoindex/internal/compress"
	"github.com/holocm/repoindex/internal/config"
	"github.com/holocm/repoindex/internal/xmlfmt"
)

// Record is one manifest entry: everything repomd.xml needs to describe a
// single produced artifact.
type Record struct {
	Type            string
	Path            string // final on-disk path, inside the repodata directory
	Href            string // final "repodata/<name>" relative href
	ChecksumType    checksum.Algorithm
	Checksum        string
	OpenChecksum    string
	Size            int64
	OpenSize        int64 // -1 means "omit open-size" (non-compressed artifacts)
	Timestamp       int64
	DatabaseVersion int // 0 means "omit database_version"
}

// BuildRecord stats filename (inside repodataDir) and computes its on-disk
// checksum (spec.md §4.7 step 2). codec names the actual compression of
// filename's bytes: for any real codec, BuildRecord also decompresses the
// file once to recover the open (decompressed) checksum and size; for
// compress.None — the plain, uncompressed "group" file is the only caller
// that passes this — there is no decompressed form, so OpenChecksum/
// OpenSize are left unset (empty string / -1) and the repomd.xml renderer
// omits <open-checksum>/<open-size> entirely, matching
// _examples/original_source/src/repomd.c's checksum_open==NULL/
// size_open==-1 handling for uncompressed records. When unique is true the
// file is renamed to "<checksum>-<filename>" first, removing any
// pre-existing file of that name, and Href/Path reflect the renamed
// location.
func BuildRecord(repodataDir, filename, recordType string, codec compress.Codec, algo checksum.Algorithm, databaseVersion int, unique bool) (*Record, error) {
	path := filepath.Join(repodataDir, filename)

	fi, err := os.Stat(path)
	if err != nil {
		return nil, config.Wrap("stat "+filename, err)
	}

	compressedChecksum, err := checksum.DigestFile(path, algo)
	if err != nil {
		return nil, config.Wrap("hashing "+filename, err)
	}

	openChecksum := ""
	openSize := int64(-1)
	if codec != compress.None {
		openChecksum, openSize, err = openStat(path, algo)
		if err != nil {
			return nil, err
		}
	}

	finalName := filename
	if unique {
		finalName = compressedChecksum + "-" + filename
		newPath := filepath.Join(repodataDir, finalName)
		if _, statErr := os.Stat(newPath); statErr == nil {
			if rmErr := os.Remove(newPath); rmErr != nil {
				return nil, config.Wrap("removing stale "+finalName, rmErr)
			}
		}
		if err := os.Rename(path, newPath); err != nil {
			return nil, config.Wrap("renaming "+filename+" to "+finalName, err)
		}
	}

	return &Record{
		Type:            recordType,
		Path:            filepath.Join(repodataDir, finalName),
		Href:            "repodata/" + finalName,
		ChecksumType:    algo,
		Checksum:        compressedChecksum,
		OpenChecksum:    openChecksum,
		Size:            fi.Size(),
		OpenSize:        openSize,
		Timestamp:       fi.ModTime().Unix(),
		DatabaseVersion: databaseVersion,
	}, nil
}

// openStat decompresses path once, driving it to EOF through the
// compress.Reader's content-stat hook to recover the decompressed size and
// checksum without buffering the whole stream in memory.
func openStat(path string, algo checksum.Algorithm) (openChecksum string, openSize int64, err error) {
	r, err := compress.OpenReadFile(path, compress.AutoDetect, algo)
	if err != nil {
		return "", 0, config.Wrap("opening "+path+" for open-checksum", err)
	}
	defer r.Close()

	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", 0, config.Wrap("decompressing "+path, err)
	}
	return r.OpenChecksum(), r.OpenSize(), nil
}

// ImportGroupFile copies a supplied group/comps file into repodataDir under
// its original base name, produces a gzip-compressed sibling, and returns
// manifest records for both ("group" and "group_gz"), matching the
// on-disk layout spec.md §6 documents. unique controls whether either file
// is subsequently prefixed with its own checksum.
func ImportGroupFile(srcPath, repodataDir string, algo checksum.Algorithm, unique bool) ([]*Record, error) {
	base := filepath.Base(srcPath)
	dstPath := filepath.Join(repodataDir, base)
	if err := copyFile(srcPath, dstPath); err != nil {
		return nil, config.Wrap("copying groupfile", err)
	}

	gzName := base + ".gz"
	if err := compressPlain(dstPath, filepath.Join(repodataDir, gzName)); err != nil {
		return nil, err
	}

	plain, err := BuildRecord(repodataDir, base, "group", compress.None, algo, 0, unique)
	if err != nil {
		return nil, err
	}
	gz, err := BuildRecord(repodataDir, gzName, "group_gz", compress.Gzip, algo, 0, unique)
	if err != nil {
		return nil, err
	}
	return []*Record{plain, gz}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func compressPlain(srcPath, dstPath string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return config.Wrap("opening "+srcPath, err)
	}
	defer in.Close()
	w, err := compress.OpenWriteFile(dstPath, compress.Gzip)
	if err != nil {
		return config.Wrap("opening "+dstPath, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		return config.Wrap("compressing "+dstPath, err)
	}
	return config.Wrap("closing "+dstPath, w.Close())
}

// BuildRepoMD assembles the final repomd.xml document from every record
// produced this run, plus free-form repo identity tags either supplied on
// the command line or carried forward from the prior generation.
func BuildRepoMD(records []*Record, revisionUnixSeconds int64, repoTags, contentTags []string, distroTags []xmlfmt.DistroTag) []byte {
	md := xmlfmt.RepoMD{
		Revision:    fmt.Sprintf("%d", revisionUnixSeconds),
		RepoTags:    repoTags,
		ContentTags: contentTags,
		DistroTags:  distroTags,
	}
	for _, r := range records {
		wireType := r.ChecksumType.WireLabel()
		md.Records = append(md.Records, xmlfmt.RepoRecord{
			Type:             r.Type,
			ChecksumType:     wireType,
			Checksum:         r.Checksum,
			OpenChecksumType: wireType,
			OpenChecksum:     r.OpenChecksum,
			LocationHref:     r.Href,
			Timestamp:        r.Timestamp,
			Size:             r.Size,
			OpenSize:         r.OpenSize,
			DatabaseVersion:  r.DatabaseVersion,
		})
	}
	return xmlfmt.RenderRepoMD(md)
}

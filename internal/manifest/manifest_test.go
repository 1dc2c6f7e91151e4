package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holocm/repoindex/internal/checksum"
	"github.com/holocm/repoindex/internal/compress"
)

func writeGzipFixture(t *testing.T, dir, name string, content []byte) {
	t.Helper()
	w, err := compress.OpenWriteFile(filepath.Join(dir, name), compress.Gzip)
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestBuildRecordComputesBothChecksums(t *testing.T) {
	dir := t.TempDir()
	content := []byte("<metadata packages=\"0\"></metadata>")
	writeGzipFixture(t, dir, "primary.xml.gz", content)

	rec, err := BuildRecord(dir, "primary.xml.gz", "primary", compress.Gzip, checksum.SHA256, 0, false)
	require.NoError(t, err)

	wantOpen, err := checksum.DigestBytes(checksum.SHA256, content)
	require.NoError(t, err)
	assert.Equal(t, wantOpen, rec.OpenChecksum)
	assert.Equal(t, int64(len(content)), rec.OpenSize)
	assert.Equal(t, "repodata/primary.xml.gz", rec.Href)

	wantCompressed, err := checksum.DigestFile(filepath.Join(dir, "primary.xml.gz"), checksum.SHA256)
	require.NoError(t, err)
	assert.Equal(t, wantCompressed, rec.Checksum)
}

func TestBuildRecordUniqueFilenamesRenames(t *testing.T) {
	dir := t.TempDir()
	writeGzipFixture(t, dir, "other.xml.gz", []byte("<otherdata></otherdata>"))

	rec, err := BuildRecord(dir, "other.xml.gz", "other", compress.Gzip, checksum.SHA256, 0, true)
	require.NoError(t, err)

	assert.True(t, len(rec.Href) > len("repodata/other.xml.gz"))
	_, statErr := os.Stat(rec.Path)
	assert.NoError(t, statErr)
}

func TestBuildRecordUniqueFilenamesRemovesStaleTarget(t *testing.T) {
	dir := t.TempDir()
	content := []byte("<filelists></filelists>")
	writeGzipFixture(t, dir, "filelists.xml.gz", content)

	checksumHex, err := checksum.DigestFile(filepath.Join(dir, "filelists.xml.gz"), checksum.SHA256)
	require.NoError(t, err)
	stalePath := filepath.Join(dir, checksumHex+"-filelists.xml.gz")
	require.NoError(t, os.WriteFile(stalePath, []byte("stale"), 0o644))

	rec, err := BuildRecord(dir, "filelists.xml.gz", "filelists", compress.Gzip, checksum.SHA256, 0, true)
	require.NoError(t, err)

	data, err := os.ReadFile(rec.Path)
	require.NoError(t, err)
	assert.NotEqual(t, []byte("stale"), data)
}

func TestBuildRepoMDIncludesDatabaseVersionOnlyForDatabases(t *testing.T) {
	records := []*Record{
		{Type: "primary", ChecksumType: checksum.SHA256, Checksum: "abc", Href: "repodata/primary.xml.gz", OpenSize: -1},
		{Type: "primary_db", ChecksumType: checksum.SHA256, Checksum: "def", Href: "repodata/primary.sqlite.gz", OpenSize: -1, DatabaseVersion: 10},
	}
	doc := BuildRepoMD(records, 1234567890, nil, nil, nil)
	s := string(doc)
	assert.Contains(t, s, `<revision>1234567890</revision>`)
	assert.Contains(t, s, "<database_version>10</database_version>")
	assert.Equal(t, 1, countOccurrences(s, "<database_version>"))
}

func countOccurrences(s, substr string) int {
	count := 0
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			count++
		}
	}
	return count
}

package retention

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyFromOptions(t *testing.T) {
	assert.Equal(t, Policy{Kind: KindDefault}, PolicyFromOptions(0, -1))
	assert.Equal(t, Policy{Kind: KindClassic, Retain: 2}, PolicyFromOptions(2, -1))
	assert.Equal(t, Policy{Kind: KindByAge, AgeSeconds: 86400}, PolicyFromOptions(0, 86400))
}

func TestPublishDefaultPolicyExcludesCurrentRecords(t *testing.T) {
	outDir := t.TempDir()
	oldDir := PublishedDir(outDir)
	require.NoError(t, os.MkdirAll(oldDir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "repomd.xml"), []byte(oldRepoMDFixture), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "aaa-primary.xml.gz"), []byte("old primary"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "stray-group.xml"), []byte("carried forward"), 0o644))

	staging, err := PrepareStagingDir(outDir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(staging, "repomd.xml"), []byte("new repomd"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "bbb-primary.xml.gz"), []byte("new primary"), 0o644))

	require.NoError(t, Publish(outDir, staging, Policy{Kind: KindDefault}))

	published := PublishedDir(outDir)
	assertFileContent(t, filepath.Join(published, "bbb-primary.xml.gz"), "new primary")
	assertFileContent(t, filepath.Join(published, "stray-group.xml"), "carried forward")
	_, err = os.Stat(filepath.Join(published, "aaa-primary.xml.gz"))
	assert.True(t, os.IsNotExist(err))
}

func TestPublishClassicPolicyKeepsTopNPerFamily(t *testing.T) {
	outDir := t.TempDir()
	oldDir := PublishedDir(outDir)
	require.NoError(t, os.MkdirAll(oldDir, 0o755))

	now := time.Now()
	writeAged(t, oldDir, "gen1-primary.xml.gz", now.Add(-3*time.Hour))
	writeAged(t, oldDir, "gen2-primary.xml.gz", now.Add(-2*time.Hour))
	writeAged(t, oldDir, "gen3-primary.xml.gz", now.Add(-1*time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "repomd.xml"), []byte(oldRepoMDFixture), 0o644))

	staging, err := PrepareStagingDir(outDir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(staging, "repomd.xml"), []byte("new repomd"), 0o644))

	require.NoError(t, Publish(outDir, staging, Policy{Kind: KindClassic, Retain: 1}))

	published := PublishedDir(outDir)
	_, err = os.Stat(filepath.Join(published, "gen3-primary.xml.gz"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(published, "gen2-primary.xml.gz"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(published, "gen1-primary.xml.gz"))
	assert.True(t, os.IsNotExist(err))
}

func TestPublishByAgePolicyDropsOldFiles(t *testing.T) {
	outDir := t.TempDir()
	oldDir := PublishedDir(outDir)
	require.NoError(t, os.MkdirAll(oldDir, 0o755))

	now := time.Now()
	writeAged(t, oldDir, "recent-other.xml.gz", now.Add(-10*time.Second))
	writeAged(t, oldDir, "ancient-other.xml.gz", now.Add(-10*time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "repomd.xml"), []byte(oldRepoMDFixture), 0o644))

	staging, err := PrepareStagingDir(outDir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(staging, "repomd.xml"), []byte("new repomd"), 0o644))

	require.NoError(t, Publish(outDir, staging, Policy{Kind: KindByAge, AgeSeconds: 60}))

	published := PublishedDir(outDir)
	_, err = os.Stat(filepath.Join(published, "recent-other.xml.gz"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(published, "ancient-other.xml.gz"))
	assert.True(t, os.IsNotExist(err))
}

func TestPrepareStagingDirClearsStaleLeftovers(t *testing.T) {
	outDir := t.TempDir()
	stale := StagingDir(outDir)
	require.NoError(t, os.MkdirAll(stale, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stale, "leftover.tmp"), []byte("x"), 0o644))

	dir, err := PrepareStagingDir(outDir)
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func writeAged(t *testing.T, dir, name string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(name), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func assertFileContent(t *testing.T, path, want string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, string(data))
}

const oldRepoMDFixture = `<?xml version="1.0" encoding="UTF-8"?>
<repomd xmlns="http://linux.duke.edu/metadata/repo">
  <revision>1</revision>
  <data type="primary">
    <checksum type="sha256">deadbeef</checksum>
    <open-checksum type="sha256">deadbeef</open-checksum>
    <location href="repodata/aaa-primary.xml.gz"/>
    <timestamp>1</timestamp>
    <size>1</size>
    <open-size>1</open-size>
  </data>
</repomd>
`

package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempPackageDir(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempPackageDir(t)
	content := []byte(`{"documents":[]}`)
	require.NoError(t, s.Write("studio-package.json", content))
	got, err := s.Read("studio-package.json")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempPackageDir(t)
	require.NoError(t, s.Write("a/b/c.json", []byte("deep")))
	got, err := s.Read("a/b/c.json")
	require.NoError(t, err)
	assert.Equal(t, "deep", string(got))
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	s := tempPackageDir(t)
	require.NoError(t, s.Write("fonts/a.ttf", []byte("font")))
	entries, err := os.ReadDir(filepath.Join(s.root, "fonts"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.ttf", entries[0].Name())
}

func TestList(t *testing.T) {
	s := tempPackageDir(t)
	_ = s.Write("a.json", []byte("a"))
	_ = s.Write("sub/b.ttf", []byte("bb"))

	items, err := s.List("")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "sub/b.ttf", items[1].Path)
	assert.Equal(t, int64(2), items[1].Size)
	assert.NotEmpty(t, items[0].Checksum)
}

func TestReadAll(t *testing.T) {
	s := tempPackageDir(t)
	_ = s.Write("pkg/chili-package.json", []byte("{}"))
	_ = s.Write("pkg/fonts/a.ttf", []byte("font"))
	_ = s.Write("other.txt", []byte("x"))

	blobs, err := s.ReadAll("pkg")
	require.NoError(t, err)
	require.Len(t, blobs, 2)
	assert.Equal(t, "chili-package.json", blobs[0].Name)
	assert.Equal(t, "fonts/a.ttf", blobs[1].Name)
	assert.Equal(t, "font", string(blobs[1].Data))
}

func TestEnsureFS(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "new", "out")
	s, err := EnsureFS(dir)
	require.NoError(t, err)
	root, _ := s.Abs("")
	assert.Equal(t, dir, root)

	abs, err := s.Abs("f/x.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "f", "x.json"), abs)
}

func TestTraversalBlocked(t *testing.T) {
	s := tempPackageDir(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.json",
		"/etc/shadow",
	}
	for _, p := range cases {
		_, err := s.Read(p)
		assert.Error(t, err, "read %q", p)
		assert.Error(t, s.Write(p, []byte("x")), "write %q", p)
	}
}

func TestOverwriteIsAtomic(t *testing.T) {
	s := tempPackageDir(t)
	_ = s.Write("atomic.json", []byte("original content"))

	updated := []byte("updated content")
	require.NoError(t, s.Write("atomic.json", updated))
	got, _ := s.Read("atomic.json")
	assert.Equal(t, updated, got)

	matches, _ := filepath.Glob(filepath.Join(s.root, ".studiopack-tmp-*"))
	assert.Empty(t, matches)
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/studiopack-does-not-exist-" + t.Name())
	assert.Error(t, err)
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, err := os.CreateTemp("", "studiopack-test-*")
	require.NoError(t, err)
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err = NewFS(f.Name())
	assert.Error(t, err)
}

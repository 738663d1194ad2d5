package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSource creates a file under root at the given relative path.
func writeSource(t *testing.T, root, rel string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("network: {version: 2}\n"), 0o644))
	return path
}

func TestSelectWinnersPrecedence(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "lib/netplan/config.yaml")
	writeSource(t, root, "etc/netplan/config.yaml")
	runPath := writeSource(t, root, "run/netplan/config.yaml")

	winners, err := SelectWinners(root)
	require.NoError(t, err)

	require.Len(t, winners, 1)
	win := winners["config.yaml"]
	assert.Equal(t, TierRuntimeOverride, win.Tier)
	assert.Equal(t, runPath, win.Path)
	assert.Equal(t, "config.yaml", win.Basename)
}

func TestSelectWinnersSiteAdminBeatsSystemDefault(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "lib/netplan/base.yaml")
	etcPath := writeSource(t, root, "etc/netplan/base.yaml")

	winners, err := SelectWinners(root)
	require.NoError(t, err)
	assert.Equal(t, etcPath, winners["base.yaml"].Path)
}

// Tier precedence governs only which file wins per basename. The
// application order across distinct basenames is lexicographic, so a
// runtime-override file whose name sorts earlier is ingested before a
// system-default file that sorts later. This is the documented
// behavior, not an accident; filenames are expected to encode priority
// via numeric prefixes.
func TestSortByBasenameCrossesTiers(t *testing.T) {
	root := t.TempDir()
	libPath := writeSource(t, root, "lib/netplan/10-a.yaml")
	runPath := writeSource(t, root, "run/netplan/05-b.yaml")

	ordered, err := Enumerate(root)
	require.NoError(t, err)

	require.Len(t, ordered, 2)
	assert.Equal(t, runPath, ordered[0].Path, "05-b sorts before 10-a regardless of tier")
	assert.Equal(t, libPath, ordered[1].Path)
}

func TestEnumerateByteWiseOrdering(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "etc/netplan/b.yaml")
	writeSource(t, root, "etc/netplan/a.yaml")
	writeSource(t, root, "etc/netplan/10-z.yaml")

	ordered, err := Enumerate(root)
	require.NoError(t, err)

	var names []string
	for _, src := range ordered {
		names = append(names, src.Basename)
	}
	assert.Equal(t, []string{"10-z.yaml", "a.yaml", "b.yaml"}, names)
}

func TestEnumerateMissingDirectories(t *testing.T) {
	ordered, err := Enumerate(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, ordered)
}

func TestEnumerateIgnoresNonYAML(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "etc/netplan/config.yaml")
	writeSource(t, root, "etc/netplan/readme.txt")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "etc/netplan/subdir.yaml"), 0o755))

	ordered, err := Enumerate(root)
	require.NoError(t, err)
	require.Len(t, ordered, 1)
	assert.Equal(t, "config.yaml", ordered[0].Basename)
}

func TestEnumerateFilesystemErrorIsFatal(t *testing.T) {
	root := t.TempDir()
	// A tier path that exists but is not a directory is an enumeration
	// error, unlike a missing directory.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "etc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "etc/netplan"), []byte("not a dir"), 0o644))

	_, err := Enumerate(root)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "site-admin")
}

func TestTierString(t *testing.T) {
	assert.Equal(t, "system-default", TierSystemDefault.String())
	assert.Equal(t, "site-admin", TierSiteAdmin.String())
	assert.Equal(t, "runtime-override", TierRuntimeOverride.String())
}

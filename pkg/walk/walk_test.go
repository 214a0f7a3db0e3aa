package walk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWalk_FindsNestedRegularFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "top.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "b", "deep.txt"), []byte("y"), 0o644))

	results, errs := Walk(root, Options{})
	require.Empty(t, errs)
	require.Len(t, results, 2)

	names := map[string]bool{}
	for _, r := range results {
		names[r.Name] = true
	}
	require.True(t, names["top.txt"])
	require.True(t, names["deep.txt"])
}

func TestWalk_SkipsConfiguredDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "config"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.txt"), []byte("y"), 0o644))

	results, errs := Walk(root, Options{SkipDirs: map[string]struct{}{".git": {}}})
	require.Empty(t, errs)
	require.Len(t, results, 1)
	require.Equal(t, "keep.txt", results[0].Name)
}

func TestWalk_MaxDepthOneYieldsOnlyRootFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "top.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "nested.txt"), []byte("y"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "b", "deep.txt"), []byte("z"), 0o644))

	results, errs := Walk(root, Options{MaxDepth: 1})
	require.Empty(t, errs)
	require.Len(t, results, 1)
	require.Equal(t, "top.txt", results[0].Name)

	results, errs = Walk(root, Options{MaxDepth: 2})
	require.Empty(t, errs)
	require.Len(t, results, 2)
}

func TestWalk_FollowsSymlinkedDirectory(t *testing.T) {
	root := t.TempDir()
	real := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(real, "linked.txt"), []byte("z"), 0o644))
	require.NoError(t, os.Symlink(real, filepath.Join(root, "link")))

	results, errs := Walk(root, Options{})
	require.Empty(t, errs)
	require.Len(t, results, 1)
	require.Equal(t, "linked.txt", results[0].Name)
}

package repo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStashList(t *testing.T) {
	out := "b35ba0438c10b2e4f1fa43f6ea5d6c60c81c7a8f\x00stash@{0}\x00On main: half done\x001700000000\n" +
		"9f1c0e1a2b3c4d5e6f708192a3b4c5d6e7f80912\x00stash@{1}\x00WIP on feature/x: 1a2b3c4 Fix parser\x001690000000\n"

	stashes, err := parseStashList(out)
	require.NoError(t, err)
	require.Len(t, stashes, 2)

	assert.Equal(t, Stash{
		Index:   0,
		Ref:     "stash@{0}",
		SHA:     "b35ba0438c10b2e4f1fa43f6ea5d6c60c81c7a8f",
		Branch:  "main",
		Message: "half done",
		Created: time.Unix(1700000000, 0).UTC(),
	}, stashes[0])
	assert.Equal(t, 1, stashes[1].Index)
	assert.Equal(t, "feature/x", stashes[1].Branch)
	assert.Equal(t, "1a2b3c4 Fix parser", stashes[1].Message)
}

func TestParseStashListEmptyAndMalformed(t *testing.T) {
	stashes, err := parseStashList("\n")
	require.NoError(t, err)
	assert.Empty(t, stashes)

	_, err = parseStashList("abc\x00stash@{0}\x00msg\n")
	assert.Error(t, err)

	_, err = parseStashList("abc\x00refs/stash\x00msg\x001\n")
	assert.Error(t, err)
}

func TestParseStashPatch(t *testing.T) {
	patch := `diff --git a/a.txt b/a.txt
index 7898192..422c2b7 100644
--- a/a.txt
+++ b/a.txt
@@ -1,2 +1,3 @@
 a
-b
+B
+c
diff --git a/new.go b/new.go
new file mode 100644
index 0000000..e69de29
--- /dev/null
+++ b/new.go
@@ -0,0 +1,2 @@
+package x
+
diff --git a/gone.md b/gone.md
deleted file mode 100644
index 3b18e51..0000000
--- a/gone.md
+++ /dev/null
@@ -1 +0,0 @@
-hello
`
	files, err := parseStashPatch(patch)
	require.NoError(t, err)
	require.Len(t, files, 3)

	assert.Equal(t, FileChange{Path: "a.txt", Status: StatusModified, Additions: 2, Deletions: 1}, files[0])
	assert.Equal(t, FileChange{Path: "new.go", Status: StatusAdded, Additions: 2}, files[1])
	assert.Equal(t, FileChange{Path: "gone.md", Status: StatusDeleted, Deletions: 1}, files[2])
}

func TestParseStashPatchEmpty(t *testing.T) {
	files, err := parseStashPatch("")
	require.NoError(t, err)
	assert.NotNil(t, files)
	assert.Empty(t, files)
}

func TestNormalizeStashRef(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "stash@{2}", want: "stash@{2}"},
		{in: " 3 ", want: "stash@{3}"},
		{in: "b35ba043", want: "b35ba043"},
		{in: "", wantErr: true},
		{in: "--output=/tmp/x", wantErr: true},
		{in: "HEAD", wantErr: true},
	}
	for _, tt := range tests {
		got, err := normalizeStashRef(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "normalizeStashRef(%q)", tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateID_Shape(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := GenerateID()
		require.Len(t, id, IDLength)
		assert.True(t, IsValidID(id), id)
	}
}

func TestGenerateID_NoCollisions(t *testing.T) {
	const n = 20000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id := GenerateID()
		_, dup := seen[id]
		require.False(t, dup, "collision after %d ids: %s", i, id)
		seen[id] = struct{}{}
	}
}

func TestIsValidID(t *testing.T) {
	assert.True(t, IsValidID("abc12345"))
	assert.False(t, IsValidID("ABC12345"))
	assert.False(t, IsValidID("abc1234"))
	assert.False(t, IsValidID("abc-2345"))
}

func TestIssueSlug(t *testing.T) {
	tests := map[string]string{
		"#42":             "42",
		"owner/repo#42":   "42",
		"PROJ-1234":       "proj-1234",
		"  Ｆｕｌｌ width 7 ": "full-width-7",
		"!!!":             "x",
	}
	for in, want := range tests {
		assert.Equal(t, want, IssueSlug(in), in)
	}
}

func TestBranchName(t *testing.T) {
	assert.Equal(t, "feature-issue-42-abc12345", BranchName(CategoryFeature, "#42", "abc12345"))
	assert.Equal(t, "bug-fix-issue-proj-9-abc12345", BranchName(CategoryBugFix, "PROJ-9", "abc12345"))
}

func TestRenderArtifactPath(t *testing.T) {
	assert.Equal(t, "specs/plan-42.md", RenderArtifactPath("specs/plan-{issue}.md", "#42", "abc12345"))
	assert.Equal(t, "docs/abc12345.md", RenderArtifactPath("docs/{id}.md", "#42", "abc12345"))
}

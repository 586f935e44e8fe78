package workflow

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/asw/internal/app/config"
)

func TestParseReviewVerdict(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		wantErr  bool
		passed   bool
		blockers int
	}{
		{
			name:   "fenced json",
			output: "Review done.\n```json\n{\"success\": true, \"issues\": []}\n```\n",
			passed: true,
		},
		{
			name:   "bare json surrounded by prose",
			output: `Here you go: {"success": true, "issues": [{"description": "naming", "severity": "tech_debt"}]} thanks`,
			passed: true,
		},
		{
			name:     "blocker fails the review",
			output:   `{"success": true, "issues": [{"description": "panics on empty input", "severity": "blocker"}]}`,
			blockers: 1,
		},
		{
			name:     "failed verdict without severities blocks on every issue",
			output:   `{"success": false, "issues": [{"description": "a"}, {"description": "b"}]}`,
			blockers: 2,
		},
		{
			name:   "first fenced block without success key is skipped",
			output: "```json\n{\"files\": 3}\n```\n```json\n{\"success\": true}\n```",
			passed: true,
		},
		{
			name:    "no json",
			output:  "LGTM",
			wantErr: true,
		},
		{
			name:    "json without verdict",
			output:  `{"files": ["a.go"]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseReviewVerdict(tt.output)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.passed, v.Passed())
			assert.Len(t, v.Blockers(), tt.blockers)
		})
	}
}

func TestDescribeIssues(t *testing.T) {
	got := describeIssues([]ReviewIssue{
		{Description: "missing header", Resolution: "write it"},
		{Description: "typo"},
	}, "\n")
	assert.Equal(t, "- missing header (fix: write it)\n- typo", got)
	assert.Equal(t, "review failed without listing issues", describeIssues(nil, "\n"))
}

func TestResolveArtifact(t *testing.T) {
	const wt = "/repo/trees/abc12345"

	newOrch := func(t *testing.T, files ...string) *Orchestrator {
		fs := afero.NewMemMapFs()
		for _, f := range files {
			writeFile(t, fs, f, "x")
		}
		return New(config.NewAppConfig(testValues()), Deps{FS: fs})
	}

	t.Run("expected path wins", func(t *testing.T) {
		o := newOrch(t, wt+"/specs/plan-42.md", wt+"/specs/other-plan.md")
		got, ok := o.resolveArtifact(wt, "specs/plan-42.md", "wrote specs/other-plan.md")
		require.True(t, ok)
		assert.Equal(t, "specs/plan-42.md", got)
	})

	t.Run("path mentioned in output", func(t *testing.T) {
		o := newOrch(t, wt+"/notes/plan.md")
		got, ok := o.resolveArtifact(wt, "specs/plan-42.md", "The plan is at `"+wt+"/notes/plan.md`.")
		require.True(t, ok)
		assert.Equal(t, "notes/plan.md", got)
	})

	t.Run("paths outside the worktree are ignored", func(t *testing.T) {
		o := newOrch(t, "/repo/trees/other/plan.md")
		_, ok := o.resolveArtifact(wt, "specs/plan-42.md", "see ../other/plan.md")
		assert.False(t, ok)
	})

	t.Run("search pattern", func(t *testing.T) {
		o := newOrch(t, wt+"/specs/b/plan-b.md", wt+"/specs/a/plan-a.md", wt+"/README.md")
		got, ok := o.resolveArtifact(wt, "specs/plan-42.md", "done", planSearchPattern)
		require.True(t, ok)
		assert.Equal(t, "specs/a/plan-a.md", got)
	})

	t.Run("nothing found", func(t *testing.T) {
		o := newOrch(t)
		_, ok := o.resolveArtifact(wt, "specs/plan-42.md", "done", planSearchPattern)
		assert.False(t, ok)
	})
}

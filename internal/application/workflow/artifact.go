package workflow

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
)

var markdownPath = regexp.MustCompile("[A-Za-z0-9_./-]+\\.md")

// resolveArtifact locates a file the agent was asked to write inside
// worktree. It tries the expected path, then paths mentioned in the agent
// output, then the search patterns. The result is relative to worktree.
func (o *Orchestrator) resolveArtifact(worktree, expected, agentOutput string, patterns ...string) (string, bool) {
	if expected != "" && o.artifactExists(worktree, expected) {
		return filepath.ToSlash(expected), true
	}

	for _, mentioned := range markdownPath.FindAllString(agentOutput, -1) {
		rel := mentioned
		if filepath.IsAbs(rel) {
			r, err := filepath.Rel(worktree, rel)
			if err != nil || strings.HasPrefix(r, "..") {
				continue
			}
			rel = r
		}
		rel = strings.TrimPrefix(filepath.ToSlash(filepath.Clean(rel)), "./")
		if strings.HasPrefix(rel, "..") {
			continue
		}
		if o.artifactExists(worktree, rel) {
			return rel, true
		}
	}

	fsys := afero.NewIOFS(afero.NewBasePathFs(o.FS, worktree))
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			o.Logger.Debug("artifact search %s in %s: %v", pattern, worktree, err)
			continue
		}
		if len(matches) > 0 {
			sort.Strings(matches)
			return matches[0], true
		}
	}
	return "", false
}

func (o *Orchestrator) artifactExists(worktree, rel string) bool {
	info, err := o.FS.Stat(filepath.Join(worktree, filepath.FromSlash(rel)))
	return err == nil && !info.IsDir()
}

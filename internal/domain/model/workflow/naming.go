package workflow

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxSlugRunes = 40

// IssueSlug converts an external ticket reference into a branch-safe token.
// "#42" and "owner/repo#42" both become "42"; other references are NFKC
// normalised, lowercased and reduced to [a-z0-9-].
func IssueSlug(ref string) string {
	ref = strings.TrimSpace(ref)
	if i := strings.LastIndex(ref, "#"); i >= 0 && i < len(ref)-1 {
		ref = ref[i+1:]
	}
	return Slugify(ref)
}

// Slugify applies NFKC normalisation, lowercases and keeps only ASCII letters,
// digits and single dashes.
func Slugify(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)

	var b strings.Builder
	lastDash := true
	runes := 0
	for _, r := range s {
		if runes >= maxSlugRunes {
			break
		}
		switch {
		case r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			lastDash = false
			runes++
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
			runes++
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "x"
	}
	return out
}

// BranchName derives the dedicated branch for a workflow:
// <category>-issue-<issue slug>-<workflow id>.
func BranchName(category Category, issueRef, workflowID string) string {
	return fmt.Sprintf("%s-issue-%s-%s", category, IssueSlug(issueRef), workflowID)
}

// RenderArtifactPath expands {issue} and {id} placeholders in a configured
// artifact pattern such as "specs/plan-{issue}.md".
func RenderArtifactPath(pattern, issueRef, workflowID string) string {
	r := strings.NewReplacer("{issue}", IssueSlug(issueRef), "{id}", workflowID)
	return r.Replace(pattern)
}

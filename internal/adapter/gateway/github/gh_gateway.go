// Package github implements the change-request gateway on top of the gh CLI.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/YoshitsuguKoike/asw/internal/app"
	"github.com/YoshitsuguKoike/asw/internal/app/config"
	"github.com/YoshitsuguKoike/asw/internal/application/port/output"
)

var prURLPattern = regexp.MustCompile(`https://[^\s]+/([^/\s]+/[^/\s]+)/pull/(\d+)`)

// GHGateway implements output.ChangeRequestGateway with `gh pr` and `gh issue`
type GHGateway struct {
	Bin         string
	repo        string
	mergeMethod string
	retry       RetryConfig
	run         CommandFunc
	logger      app.Logger
}

// NewGHGateway creates a gateway for cfg.Repo (empty means the repository of
// the current directory)
func NewGHGateway(cfg config.GitHubConfig, logger app.Logger) *GHGateway {
	return NewGHGatewayWithCommand(cfg, ExecCommand, DefaultRetryConfig(), logger)
}

// NewGHGatewayWithCommand injects the command runner, primarily for tests
func NewGHGatewayWithCommand(cfg config.GitHubConfig, run CommandFunc, retry RetryConfig, logger app.Logger) *GHGateway {
	if logger == nil {
		logger = app.NopLogger{}
	}
	method := cfg.MergeMethod
	if method == "" {
		method = "squash"
	}
	return &GHGateway{
		Bin:         "gh",
		repo:        cfg.Repo,
		mergeMethod: method,
		retry:       retry,
		run:         run,
		logger:      logger,
	}
}

type prView struct {
	Number      int    `json:"number"`
	URL         string `json:"url"`
	State       string `json:"state"`
	MergeCommit *struct {
		Oid string `json:"oid"`
	} `json:"mergeCommit"`
}

// Create opens a pull request, or returns the open one for the same head
func (g *GHGateway) Create(ctx context.Context, req output.ChangeRequestInput) (output.ChangeRequest, error) {
	if existing, err := g.findByHead(ctx, req.Head); err != nil {
		return output.ChangeRequest{}, err
	} else if existing != nil {
		g.logger.Info("reusing pull request %s for %s", existing.URL, req.Head)
		return output.ChangeRequest{ID: strconv.Itoa(existing.Number), URL: existing.URL}, nil
	}

	args := g.withRepo("pr", "create",
		"--base", req.Base,
		"--head", req.Head,
		"--title", req.Title,
		"--body", req.Body,
	)
	out, err := RunWithRetry(ctx, g.retry, g.run, g.logger, g.Bin, args...)
	if err != nil {
		return output.ChangeRequest{}, fmt.Errorf("create pull request: %w", err)
	}

	m := prURLPattern.FindStringSubmatch(string(out))
	if m == nil {
		return output.ChangeRequest{}, fmt.Errorf("create pull request: no URL in gh output %q", strings.TrimSpace(string(out)))
	}
	return output.ChangeRequest{ID: m[2], URL: m[0]}, nil
}

// Merge merges pull request id. An already merged request is reported with
// its existing merge commit.
func (g *GHGateway) Merge(ctx context.Context, id string) (output.MergeResult, error) {
	view, err := g.view(ctx, id)
	if err != nil {
		return output.MergeResult{}, err
	}
	if strings.EqualFold(view.State, "MERGED") {
		return g.mergeResult(view, true), nil
	}

	args := g.withRepo("pr", "merge", id, "--"+g.mergeMethod)
	if _, err := RunWithRetry(ctx, g.retry, g.run, g.logger, g.Bin, args...); err != nil {
		// A retried merge may have landed on an earlier attempt
		if again, verr := g.view(ctx, id); verr == nil && strings.EqualFold(again.State, "MERGED") {
			return g.mergeResult(again, true), nil
		}
		return output.MergeResult{}, fmt.Errorf("merge pull request %s: %w", id, err)
	}

	merged, err := g.view(ctx, id)
	if err != nil {
		return output.MergeResult{}, err
	}
	return g.mergeResult(merged, false), nil
}

// Comment posts body on the issue referenced as "#N", "N" or "owner/repo#N"
func (g *GHGateway) Comment(ctx context.Context, issueRef, body string) error {
	repo, number, err := splitIssueRef(issueRef)
	if err != nil {
		return err
	}
	args := []string{"issue", "comment", number, "--body", body}
	if repo == "" {
		repo = g.repo
	}
	if repo != "" {
		args = append(args, "--repo", repo)
	}
	if _, err := RunWithRetry(ctx, g.retry, g.run, g.logger, g.Bin, args...); err != nil {
		return fmt.Errorf("comment on issue %s: %w", issueRef, err)
	}
	return nil
}

func (g *GHGateway) view(ctx context.Context, id string) (*prView, error) {
	args := g.withRepo("pr", "view", id, "--json", "number,url,state,mergeCommit")
	out, err := RunWithRetry(ctx, g.retry, g.run, g.logger, g.Bin, args...)
	if err != nil {
		return nil, fmt.Errorf("view pull request %s: %w", id, err)
	}
	var v prView
	if err := json.Unmarshal(out, &v); err != nil {
		return nil, fmt.Errorf("parse pull request %s: %w", id, err)
	}
	return &v, nil
}

func (g *GHGateway) findByHead(ctx context.Context, head string) (*prView, error) {
	args := g.withRepo("pr", "list", "--head", head, "--state", "open", "--json", "number,url,state", "--limit", "1")
	out, err := RunWithRetry(ctx, g.retry, g.run, g.logger, g.Bin, args...)
	if err != nil {
		return nil, fmt.Errorf("list pull requests for %s: %w", head, err)
	}
	var prs []prView
	if err := json.Unmarshal(out, &prs); err != nil {
		return nil, fmt.Errorf("parse pull request list: %w", err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return &prs[0], nil
}

func (g *GHGateway) mergeResult(v *prView, already bool) output.MergeResult {
	res := output.MergeResult{AlreadyMerged: already}
	if v.MergeCommit != nil {
		res.Reference = v.MergeCommit.Oid
	}
	repo := g.repo
	if m := prURLPattern.FindStringSubmatch(v.URL); m != nil {
		repo = m[1]
	}
	res.ExternalID = fmt.Sprintf("%s#%d", repo, v.Number)
	return res
}

func (g *GHGateway) withRepo(args ...string) []string {
	if g.repo != "" {
		args = append(args, "--repo", g.repo)
	}
	return args
}

// splitIssueRef parses "#42", "42" and "owner/repo#42"
func splitIssueRef(ref string) (repo, number string, err error) {
	ref = strings.TrimSpace(ref)
	if i := strings.LastIndex(ref, "#"); i >= 0 {
		repo, number = ref[:i], ref[i+1:]
	} else {
		number = ref
	}
	if _, convErr := strconv.Atoi(number); convErr != nil {
		return "", "", fmt.Errorf("issue reference %q has no issue number", ref)
	}
	return repo, number, nil
}

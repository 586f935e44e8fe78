package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/asw/internal/app"
	"github.com/YoshitsuguKoike/asw/internal/app/config"
	"github.com/YoshitsuguKoike/asw/internal/application/port/output"
	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
	"github.com/YoshitsuguKoike/asw/internal/domain/model/lock"
	model "github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
	"github.com/YoshitsuguKoike/asw/internal/infra/repository/state"
)

const (
	testRepo       = "/repo"
	testTrees      = "/repo/trees"
	testHome       = "/home/.asw"
	testWorkflowID = "abc12345"
)

// fakeWorktrees keeps worktrees as directories of an in-memory filesystem
type fakeWorktrees struct {
	mu         sync.Mutex
	fs         afero.Fs
	branches   map[string]bool
	registered map[string]string
	commits    []string
	pushes     int
	removed    []string
	pushErr    error
}

func newFakeWorktrees(fs afero.Fs) *fakeWorktrees {
	return &fakeWorktrees{fs: fs, branches: map[string]bool{}, registered: map[string]string{}}
}

func (w *fakeWorktrees) Path(id string) string { return filepath.Join(testTrees, id) }

func (w *fakeWorktrees) Create(_ context.Context, id, branch string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.branches[branch] {
		return "", execution.Wrap(execution.ErrBranchExists, "%s", branch)
	}
	p := w.Path(id)
	if err := w.fs.MkdirAll(p, 0o755); err != nil {
		return "", err
	}
	w.branches[branch] = true
	w.registered[id] = p
	return p, nil
}

func (w *fakeWorktrees) Check(_ context.Context, id, statePath string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if statePath == "" || w.registered[id] != statePath {
		return execution.Wrap(execution.ErrWorktreeInconsistent, "%s not registered", statePath)
	}
	if ok, _ := afero.DirExists(w.fs, statePath); !ok {
		return execution.Wrap(execution.ErrWorktreeInconsistent, "%s missing", statePath)
	}
	return nil
}

func (w *fakeWorktrees) Remove(_ context.Context, id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.registered, id)
	w.removed = append(w.removed, id)
	return w.fs.RemoveAll(w.Path(id))
}

func (w *fakeWorktrees) DeleteBranch(_ context.Context, branch string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.branches, branch)
	return nil
}

func (w *fakeWorktrees) WritePortsFile(path, id string, primary, secondary int) error {
	content := fmt.Sprintf("ASW_PRIMARY_PORT=%d\nASW_SECONDARY_PORT=%d\nASW_WORKFLOW_ID=%s\n", primary, secondary, id)
	return afero.WriteFile(w.fs, filepath.Join(path, app.PortsFileName), []byte(content), 0o644)
}

func (w *fakeWorktrees) CommitAll(_ context.Context, _ string, message string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.commits = append(w.commits, message)
	return true, nil
}

func (w *fakeWorktrees) Push(context.Context, string, string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pushes++
	return w.pushErr
}

// stateReservations reports the ports of stored unshipped workflows, the
// way the workflow index does
type stateReservations struct {
	states *state.FileStateRepository
}

func (r stateReservations) ReservedPorts(ctx context.Context, excludeID string) (map[int]string, error) {
	ids, err := r.states.List(ctx)
	if err != nil {
		return nil, err
	}
	reserved := make(map[int]string)
	for _, id := range ids {
		if id == excludeID {
			continue
		}
		s, err := r.states.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if s.IsShipped() || !s.HasPorts() {
			continue
		}
		reserved[s.PrimaryPort] = id
		reserved[s.SecondaryPort] = id
	}
	return reserved, nil
}

type freeProber struct{}

func (freeProber) Available(int) bool { return true }

type fakePorts struct {
	alloc output.PortAllocation
	err   error
}

func (p *fakePorts) Allocate(context.Context, string) (output.PortAllocation, error) {
	return p.alloc, p.err
}

// fakeAgent answers every call through respond
type fakeAgent struct {
	mu      sync.Mutex
	calls   []output.AgentRequest
	respond func(req output.AgentRequest) execution.Result
}

func (a *fakeAgent) Execute(_ context.Context, req output.AgentRequest) execution.Result {
	a.mu.Lock()
	a.calls = append(a.calls, req)
	respond := a.respond
	a.mu.Unlock()
	return respond(req)
}

func (a *fakeAgent) AgentType() string { return "fake" }

func (a *fakeAgent) callsWithPrefix(prefix string) []output.AgentRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []output.AgentRequest
	for _, c := range a.calls {
		if strings.HasPrefix(c.Prompt, prefix) {
			out = append(out, c)
		}
	}
	return out
}

type fakeVerifier struct {
	mu       sync.Mutex
	results  []output.VerificationReport
	calls    int
	commands [][]string
	env      map[string]string
}

func (v *fakeVerifier) Verify(_ context.Context, _ string, commands []string, env map[string]string) (output.VerificationReport, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.commands = append(v.commands, commands)
	v.env = env
	if len(v.results) == 0 {
		v.calls++
		return output.VerificationReport{Passed: true}, nil
	}
	i := v.calls
	if i >= len(v.results) {
		i = len(v.results) - 1
	}
	v.calls++
	return v.results[i], nil
}

type fakeChanges struct {
	mu         sync.Mutex
	created    []output.ChangeRequestInput
	merges     int
	merged     bool
	comments   []string
	commentErr error
}

func (c *fakeChanges) Create(_ context.Context, in output.ChangeRequestInput) (output.ChangeRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, in)
	return output.ChangeRequest{ID: "17", URL: "https://github.com/acme/app/pull/17"}, nil
}

func (c *fakeChanges) Merge(_ context.Context, id string) (output.MergeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.merges++
	res := output.MergeResult{Reference: "c0ffee", ExternalID: "acme/app#" + id, AlreadyMerged: c.merged}
	c.merged = true
	return res, nil
}

func (c *fakeChanges) Comment(_ context.Context, _ string, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.comments = append(c.comments, body)
	return c.commentErr
}

func (c *fakeChanges) commentsContaining(s string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, body := range c.comments {
		if strings.Contains(body, s) {
			out = append(out, body)
		}
	}
	return out
}

// fakeLocks is an in-process LockService
type fakeLocks struct {
	mu         sync.Mutex
	held       map[string]bool
	trunkCalls int
	portsCalls int
	ports      sync.Mutex
}

func newFakeLocks() *fakeLocks { return &fakeLocks{held: map[string]bool{}} }

func (l *fakeLocks) WithWorkflowLock(ctx context.Context, id, _ string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.held[id] {
		l.mu.Unlock()
		return execution.Wrap(execution.ErrWorkflowLocked, "workflow %s is locked", id)
	}
	l.held[id] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, id)
		l.mu.Unlock()
	}()
	return fn(ctx)
}

func (l *fakeLocks) WithTrunkLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	l.trunkCalls++
	l.mu.Unlock()
	return fn(ctx)
}

func (l *fakeLocks) WithPortsLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	l.ports.Lock()
	defer l.ports.Unlock()
	l.mu.Lock()
	l.portsCalls++
	l.mu.Unlock()
	return fn(ctx)
}

func (l *fakeLocks) ListRunLocks(context.Context) ([]*lock.RunLock, error) { return nil, nil }
func (l *fakeLocks) ReclaimStale(context.Context) (int, error)             { return 0, nil }
func (l *fakeLocks) Stop() error                                           { return nil }

type fakeArchive struct {
	mu    sync.Mutex
	saved []output.SaveArtifactRequest
}

func (a *fakeArchive) SaveArtifact(_ context.Context, req output.SaveArtifactRequest) (*output.ArtifactMetadata, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, req)
	return &output.ArtifactMetadata{ID: fmt.Sprintf("a%d", len(a.saved)), WorkflowID: req.WorkflowID, Type: req.ArtifactType,
		Name: req.Name, StoragePath: "mem://" + req.Name, Size: int64(len(req.Content))}, nil
}

func (a *fakeArchive) LoadArtifact(context.Context, string, string) (*output.Artifact, error) {
	return nil, errors.New("not implemented")
}

func (a *fakeArchive) ListArtifacts(context.Context, string) ([]*output.ArtifactMetadata, error) {
	return nil, nil
}

func (a *fakeArchive) types() []output.ArtifactType {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []output.ArtifactType
	for _, s := range a.saved {
		out = append(out, s.ArtifactType)
	}
	return out
}

type testEnv struct {
	fs        afero.Fs
	states    *state.FileStateRepository
	worktrees *fakeWorktrees
	ports     *fakePorts
	agent     *fakeAgent
	verifier  *fakeVerifier
	changes   *fakeChanges
	locks     *fakeLocks
	archive   *fakeArchive
	orch      *Orchestrator
}

func testValues() config.Values {
	return config.Values{
		Home:                testHome,
		RepoRoot:            testRepo,
		TrunkBranch:         "main",
		TreesDir:            testTrees,
		AgentsDir:           "agents",
		TimeoutSec:          60,
		StandardModel:       "sonnet",
		ElevatedModel:       "opus",
		DefaultModelTier:    model.ModelTierStandard,
		Family:              model.FamilyApp,
		Retry:               config.RetryConfig{MaxAttempts: 3},
		Test:                config.TestConfig{Commands: []string{"go test ./..."}, E2ECommands: []string{"make e2e"}, MaxRemediation: 3},
		MaxReviewCycles:     3,
		PlanArtifactPattern: "specs/plan-{issue}.md",
		DocsArtifactPattern: "docs/{id}.md",
	}
}

func newTestEnv(t *testing.T, mutate ...func(v *config.Values)) *testEnv {
	t.Helper()
	v := testValues()
	for _, m := range mutate {
		m(&v)
	}
	cfg := config.NewAppConfig(v)

	fs := afero.NewMemMapFs()
	env := &testEnv{
		fs:        fs,
		states:    state.NewFileStateRepository(fs, cfg.AgentsRoot(), nil),
		worktrees: newFakeWorktrees(fs),
		ports:     &fakePorts{alloc: output.PortAllocation{Primary: 9103, Secondary: 9203}},
		agent:     &fakeAgent{},
		verifier:  &fakeVerifier{},
		changes:   &fakeChanges{},
		locks:     newFakeLocks(),
		archive:   &fakeArchive{},
	}
	env.agent.respond = happyAgent(fs)

	env.orch = New(cfg, Deps{
		States:    env.states,
		Worktrees: env.worktrees,
		Ports:     env.ports,
		Agent:     env.agent,
		Locks:     env.locks,
		Verifier:  env.verifier,
		Changes:   env.changes,
		Archive:   env.archive,
		FS:        fs,
	})
	env.orch.newID = func() string { return testWorkflowID }
	env.orch.heartbeat = 0
	return env
}

func writeFile(t testing.TB, fs afero.Fs, path, content string) {
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

// happyAgent writes the requested artifacts and passes every review
func happyAgent(fs afero.Fs) func(req output.AgentRequest) execution.Result {
	return func(req output.AgentRequest) execution.Result {
		switch {
		case strings.HasPrefix(req.Prompt, "# Issue Classification"):
			return execution.Succeeded("/bug")
		case strings.HasPrefix(req.Prompt, "# Planning Task"):
			_ = afero.WriteFile(fs, filepath.Join(req.Dir, "specs", "plan-42.md"), []byte("# Plan\n"), 0o644)
			return execution.Succeeded("Plan written to specs/plan-42.md")
		case strings.HasPrefix(req.Prompt, "# Code Review Task"):
			return execution.Succeeded("Looks good.\n```json\n{\"success\": true, \"issues\": []}\n```")
		case strings.HasPrefix(req.Prompt, "# Documentation Task"):
			_ = afero.WriteFile(fs, filepath.Join(req.Dir, "docs", req.WorkflowID+".md"), []byte("# Docs\n"), 0o644)
			return execution.Succeeded("Wrote docs/" + req.WorkflowID + ".md")
		}
		return execution.Succeeded("done")
	}
}

var issue42 = Issue{
	Reference: "#42",
	Title:     "Add CSV export",
	Body:      "Reports need a CSV export.\nmodel_tier: elevated",
}

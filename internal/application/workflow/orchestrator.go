// Package workflow drives a workflow through its phases. Every phase entry
// holds the workflow lock, checks its preconditions against the stored state,
// persists before returning and reports progress as a bot-marked comment.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/asw/internal/app"
	"github.com/YoshitsuguKoike/asw/internal/app/config"
	"github.com/YoshitsuguKoike/asw/internal/application/port/output"
	"github.com/YoshitsuguKoike/asw/internal/application/service"
	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
	model "github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
	"github.com/YoshitsuguKoike/asw/internal/domain/repository"
	"github.com/YoshitsuguKoike/asw/internal/domain/service/botguard"
)

const (
	maxIDAttempts            = 5
	defaultHeartbeatInterval = 30 * time.Second
)

// Issue is the external ticket a new workflow is started for
type Issue struct {
	Reference string
	Title     string
	Body      string
	// Category skips agent classification when set
	Category model.Category
}

// RunOptions modifies a single phase run
type RunOptions struct {
	// Force reruns a phase already recorded in completed_phases
	Force bool
}

// Deps are the collaborators of the Orchestrator
type Deps struct {
	States    repository.StateRepository
	Worktrees output.Worktrees
	Ports     output.PortAllocator
	Agent     output.AgentGateway
	Retry     *service.RetryService
	Locks     service.LockService
	Verifier  output.Verifier
	Changes   output.ChangeRequestGateway
	Archive   output.StorageGateway // optional
	Prompts   *service.PromptBuilderService
	Metrics   output.MetricsRecorder // optional
	FS        afero.Fs               // reads worktree artifacts and journals
	Logger    app.Logger
}

// Orchestrator is the phase state machine
type Orchestrator struct {
	cfg config.Config
	Deps

	newID     func() string
	heartbeat time.Duration
	now       func() time.Time
}

// New creates an orchestrator
func New(cfg config.Config, deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = app.NopLogger{}
	}
	if deps.Metrics == nil {
		deps.Metrics = output.NopMetrics{}
	}
	if deps.FS == nil {
		deps.FS = afero.NewOsFs()
	}
	if deps.Prompts == nil {
		deps.Prompts = service.NewPromptBuilderService(nil, deps.Logger)
	}
	if deps.Retry == nil {
		deps.Retry = service.NewRetryService(retryPolicy(cfg.Retry()), deps.Metrics, deps.Logger)
	}
	return &Orchestrator{
		cfg:       cfg,
		Deps:      deps,
		newID:     model.GenerateID,
		heartbeat: defaultHeartbeatInterval,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func retryPolicy(r config.RetryConfig) service.RetryPolicy {
	return service.RetryPolicy{MaxAttempts: r.MaxAttempts, Delays: r.Delays, TimeoutDelays: r.TimeoutDelays}
}

// Start creates a new workflow for issue and runs composition c to its end
// or to the first failure
func (o *Orchestrator) Start(ctx context.Context, issue Issue, c model.Composition) (model.State, error) {
	if strings.TrimSpace(issue.Reference) == "" {
		return model.State{}, execution.Wrap(execution.ErrPreconditionFailed, "issue reference is required")
	}

	var (
		s   model.State
		err error
	)
	switch c.Entry() {
	case model.PhasePlan:
		s, err = o.Plan(ctx, issue)
	case model.PhasePatch:
		s, err = o.Patch(ctx, issue)
	default:
		return model.State{}, fmt.Errorf("composition %q does not start a workflow", c.Name)
	}
	if err != nil {
		return s, err
	}
	return o.runChain(ctx, s, c)
}

// Resume runs the phases of c not yet recorded for workflowID. An empty
// composition name picks patch for patch workflows and sdlc otherwise.
func (o *Orchestrator) Resume(ctx context.Context, workflowID string, c model.Composition) (model.State, error) {
	s, err := o.States.Load(ctx, workflowID)
	if err != nil {
		return s, err
	}
	if c.Name == "" {
		c = model.CompositionSDLC
		if s.HasCompleted(model.PhasePatch) {
			c = model.CompositionPatch
		}
	}
	if !s.HasCompleted(c.Entry()) {
		return s, execution.Wrap(execution.ErrPreconditionFailed,
			"workflow %s has not completed %s; start a new workflow instead", workflowID, c.Entry())
	}
	return o.runChain(ctx, s, c)
}

func (o *Orchestrator) runChain(ctx context.Context, s model.State, c model.Composition) (model.State, error) {
	for _, p := range c.Remaining(s.CompletedPhases) {
		next, err := o.RunPhase(ctx, s.WorkflowID, p, RunOptions{})
		if err != nil {
			return next, err
		}
		s = next
	}
	return s, nil
}

// RunPhase runs a single phase of an existing workflow. Plan and Patch create
// workflows and are only reachable through Start.
func (o *Orchestrator) RunPhase(ctx context.Context, workflowID string, phase model.Phase, opts RunOptions) (model.State, error) {
	handler, ok := o.handlers()[phase]
	if !ok {
		return model.State{}, execution.Wrap(execution.ErrPreconditionFailed,
			"phase %s starts a new workflow; use run or patch", phase)
	}

	var out model.State
	err := o.Locks.WithWorkflowLock(ctx, workflowID, string(phase), func(ctx context.Context) error {
		s, err := o.States.Load(ctx, workflowID)
		if err != nil {
			out = s
			return err
		}
		out, err = o.execute(ctx, s, phase, opts, handler)
		return err
	})
	return out, err
}

type phaseHandler func(ctx context.Context, s model.State) (model.State, error)

func (o *Orchestrator) handlers() map[model.Phase]phaseHandler {
	return map[model.Phase]phaseHandler{
		model.PhaseBuild:    o.build,
		model.PhaseTest:     o.test,
		model.PhaseReview:   o.review,
		model.PhaseDocument: o.document,
		model.PhaseShip:     o.ship,
	}
}

// execute applies the common phase envelope around handler
func (o *Orchestrator) execute(ctx context.Context, s model.State, phase model.Phase, opts RunOptions, handler phaseHandler) (model.State, error) {
	start := time.Now()

	if phase == model.PhaseShip && s.IsShipped() {
		o.Logger.Info("workflow=%s phase=ship already shipped at %s, nothing to do", s.WorkflowID, s.ShippedAt.Format(time.RFC3339))
		o.Metrics.ObservePhase(string(phase), output.OutcomeSkipped, time.Since(start))
		return s, nil
	}
	if s.HasCompleted(phase) && !opts.Force {
		return s, execution.Wrap(execution.ErrPhaseAlreadyCompleted, "workflow %s phase %s", s.WorkflowID, phase)
	}
	if err := o.checkPreconditions(ctx, s, phase); err != nil {
		o.Logger.Warn("workflow=%s phase=%s precondition failed: %v", s.WorkflowID, phase, err)
		o.Metrics.ObservePhase(string(phase), output.OutcomeFailure, time.Since(start))
		return s, err
	}

	o.Logger.Info("workflow=%s phase=%s started", s.WorkflowID, phase)
	o.comment(ctx, s, phase, "started")

	next, err := handler(ctx, s)
	if err != nil {
		next = o.recordFailure(ctx, next, phase, err)
		o.Metrics.ObservePhase(string(phase), output.OutcomeFailure, time.Since(start))
		return next, err
	}

	o.Metrics.ObservePhase(string(phase), output.OutcomeSuccess, time.Since(start))
	o.comment(ctx, next, phase, completionMessage(next, phase))
	o.Logger.Info("workflow=%s phase=%s completed in %s", s.WorkflowID, phase, time.Since(start).Round(time.Millisecond))
	return next, nil
}

// checkPreconditions verifies the stored state allows phase to run
func (o *Orchestrator) checkPreconditions(ctx context.Context, s model.State, phase model.Phase) error {
	var missing []string
	need := func(ok bool, what string) {
		if !ok {
			missing = append(missing, what)
		}
	}

	switch phase {
	case model.PhaseBuild:
		need(s.HasCompleted(model.PhasePlan), "completed plan")
		need(s.PlanArtifactPath != "", "plan_artifact_path")
		need(s.BranchName != "", "branch_name")
		need(s.WorktreePath != "", "worktree_path")
	case model.PhaseTest, model.PhaseReview:
		need(s.HasImplementation(), "completed build or patch")
	case model.PhaseDocument:
		need(s.HasCompleted(model.PhaseReview), "completed review")
	case model.PhaseShip:
		// Planned work ships only after the full chain; a patch may ship
		// straight after its implementation.
		if s.HasCompleted(model.PhasePlan) {
			need(s.HasCompleted(model.PhaseDocument), "completed document")
		} else {
			need(s.HasCompleted(model.PhasePatch), "completed patch")
		}
		need(s.ChangeRequestID != "", "change_request_id")
		need(s.BranchName != "", "branch_name")
	}
	if len(missing) > 0 {
		return execution.Wrap(execution.ErrPreconditionFailed, "workflow %s cannot run %s: missing %s",
			s.WorkflowID, phase, strings.Join(missing, ", "))
	}

	if phase == model.PhaseShip {
		return nil
	}
	return o.Worktrees.Check(ctx, s.WorkflowID, s.WorktreePath)
}

// recordFailure persists s with last_failure set and posts the failure comment
func (o *Orchestrator) recordFailure(ctx context.Context, s model.State, phase model.Phase, cause error) model.State {
	ctx = context.WithoutCancel(ctx)
	o.Logger.Error("workflow=%s phase=%s failed: %v", s.WorkflowID, phase, cause)

	if s.WorkflowID == "" {
		return s
	}

	failure := model.Failure{
		Phase:    phase,
		Category: string(execution.CategoryOf(cause)),
		Reason:   summarize(cause.Error()),
		At:       o.now(),
	}
	failed, err := model.Update(s, model.Patch{LastFailure: &failure})
	if err != nil {
		o.Logger.Error("workflow=%s phase=%s cannot record failure: %v", s.WorkflowID, phase, err)
		return s
	}
	if err := o.States.Save(ctx, failed, string(phase)+":failed"); err != nil {
		o.Logger.Error("workflow=%s phase=%s cannot persist failure: %v", s.WorkflowID, phase, err)
	}

	o.comment(ctx, failed, phase, fmt.Sprintf("failed (%s): %s", failure.Category, failure.Reason))
	return failed
}

// comment posts a bot-marked progress comment on the issue. Comment failures
// never fail a phase.
func (o *Orchestrator) comment(ctx context.Context, s model.State, phase model.Phase, message string) {
	if o.Changes == nil || s.IssueReference == "" {
		return
	}
	family := s.Family
	if family == "" {
		family = o.cfg.Family()
	}
	body := botguard.FormatComment(family, s.WorkflowID, string(phase), message)
	if err := o.Changes.Comment(ctx, s.IssueReference, body); err != nil {
		o.Logger.Warn("workflow=%s phase=%s comment failed: %v", s.WorkflowID, phase, err)
	}
}

// complete marks phase completed (once) and persists s
func (o *Orchestrator) complete(ctx context.Context, s model.State, phase model.Phase) (model.State, error) {
	if s.HasCompleted(phase) {
		s = s.Clone()
		s.LastFailure = nil
	} else {
		s = s.CompletePhase(phase)
	}
	if err := o.States.Save(ctx, s, string(phase)); err != nil {
		return s, fmt.Errorf("persist %s: %w", phase, err)
	}
	return s, nil
}

// callAgent runs one agent instruction in the workflow worktree. retry selects
// the bounded backoff policy; otherwise a single attempt is made.
func (o *Orchestrator) callAgent(ctx context.Context, s model.State, phase model.Phase, prompt string, retry bool) (execution.Result, error) {
	tier := s.ModelTier
	if tier == "" {
		tier = o.cfg.DefaultModelTier()
	}
	req := output.AgentRequest{
		Prompt:     prompt,
		Dir:        s.WorktreePath,
		Model:      o.cfg.Model(tier),
		Timeout:    o.cfg.Timeout(),
		WorkflowID: s.WorkflowID,
		Phase:      string(phase),
	}

	stop := o.startHeartbeat(s.WorkflowID, phase)
	defer stop()

	if retry {
		return o.Retry.Execute(ctx, o.Agent, req)
	}
	return o.Retry.ExecuteOnce(ctx, o.Agent, req)
}

// startHeartbeat logs periodically while a long agent call is running
func (o *Orchestrator) startHeartbeat(workflowID string, phase model.Phase) func() {
	if o.heartbeat <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	started := time.Now()

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(o.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				o.Logger.Info("workflow=%s phase=%s agent still running (%s)", workflowID, phase, time.Since(started).Round(time.Second))
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

func (o *Orchestrator) promptContext(s model.State) service.PromptContext {
	return service.PromptContext{
		WorkflowID:        s.WorkflowID,
		IssueReference:    s.IssueReference,
		IssueTitle:        s.IssueTitle,
		Category:          s.IssueCategory,
		WorktreePath:      s.WorktreePath,
		PlanArtifactPath:  s.PlanArtifactPath,
		DocumentationPath: s.DocumentationPath,
		PrimaryPort:       s.PrimaryPort,
		SecondaryPort:     s.SecondaryPort,
	}
}

// commitAndPush records the agent's work on the workflow branch
func (o *Orchestrator) commitAndPush(ctx context.Context, s model.State, message string) error {
	committed, err := o.Worktrees.CommitAll(ctx, s.WorktreePath, message)
	if err != nil {
		return err
	}
	if !committed {
		o.Logger.Debug("workflow=%s nothing to commit for %q", s.WorkflowID, message)
	}
	return o.Worktrees.Push(ctx, s.WorktreePath, s.BranchName)
}

func (o *Orchestrator) portsEnv(s model.State) map[string]string {
	return map[string]string{
		"ASW_PRIMARY_PORT":   fmt.Sprintf("%d", s.PrimaryPort),
		"ASW_SECONDARY_PORT": fmt.Sprintf("%d", s.SecondaryPort),
		"ASW_WORKFLOW_ID":    s.WorkflowID,
	}
}

// newWorkflowID draws ids until one is not taken by an existing state record
func (o *Orchestrator) newWorkflowID(ctx context.Context) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := o.newID()
		exists, err := o.States.Exists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("check workflow id %s: %w", id, err)
		}
		if !exists {
			return id, nil
		}
		o.Logger.Warn("workflow id %s is taken, regenerating", id)
	}
	return "", execution.Wrap(execution.ErrIDCollision, "no free id after %d attempts", maxIDAttempts)
}

func completionMessage(s model.State, phase model.Phase) string {
	switch phase {
	case model.PhasePlan:
		return fmt.Sprintf("planned as %s in %s (branch %s)", s.IssueCategory, s.PlanArtifactPath, s.BranchName)
	case model.PhaseBuild, model.PhasePatch:
		return "change request opened: " + s.ChangeRequestURL
	case model.PhaseReview:
		return fmt.Sprintf("review passed after %d cycle(s)", s.ReviewCycles)
	case model.PhaseDocument:
		return "documentation written to " + s.DocumentationPath
	case model.PhaseShip:
		return fmt.Sprintf("merged as %s (%s)", s.MergeReference, s.ExternalRequestID)
	}
	return "completed"
}

// summarize keeps the first line of an error message, bounded in length
func summarize(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 300 {
		cut := 300
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}

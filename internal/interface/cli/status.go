package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	model "github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
	"github.com/YoshitsuguKoike/asw/internal/infrastructure/di"
)

// StateView is the JSON form of a workflow state
type StateView struct {
	WorkflowID        string     `json:"workflow_id"`
	IssueReference    string     `json:"issue_reference"`
	IssueTitle        string     `json:"issue_title,omitempty"`
	Family            string     `json:"family,omitempty"`
	IssueCategory     string     `json:"issue_category,omitempty"`
	BranchName        string     `json:"branch_name,omitempty"`
	WorktreePath      string     `json:"worktree_path,omitempty"`
	WorktreeValid     *bool      `json:"worktree_valid,omitempty"`
	PrimaryPort       int        `json:"primary_port,omitempty"`
	SecondaryPort     int        `json:"secondary_port,omitempty"`
	ModelTier         string     `json:"model_tier,omitempty"`
	PlanArtifactPath  string     `json:"plan_artifact_path,omitempty"`
	DocumentationPath string     `json:"documentation_path,omitempty"`
	CompletedPhases   []string   `json:"completed_phases"`
	ReviewCycles      int        `json:"review_cycles,omitempty"`
	ChangeRequestID   string     `json:"change_request_id,omitempty"`
	ChangeRequestURL  string     `json:"change_request_url,omitempty"`
	MergeReference    string     `json:"merge_reference,omitempty"`
	ExternalRequestID string     `json:"external_request_id,omitempty"`
	LastFailure       *FailView  `json:"last_failure,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	ShippedAt         *time.Time `json:"shipped_at"`
}

// FailView is the JSON form of a recorded failure
type FailView struct {
	Phase    string    `json:"phase"`
	Category string    `json:"category"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

func newStateView(s model.State) StateView {
	v := StateView{
		WorkflowID:        s.WorkflowID,
		IssueReference:    s.IssueReference,
		IssueTitle:        s.IssueTitle,
		Family:            string(s.Family),
		IssueCategory:     string(s.IssueCategory),
		BranchName:        s.BranchName,
		WorktreePath:      s.WorktreePath,
		PrimaryPort:       s.PrimaryPort,
		SecondaryPort:     s.SecondaryPort,
		ModelTier:         string(s.ModelTier),
		PlanArtifactPath:  s.PlanArtifactPath,
		DocumentationPath: s.DocumentationPath,
		CompletedPhases:   phaseNames(s.CompletedPhases),
		ReviewCycles:      s.ReviewCycles,
		ChangeRequestID:   s.ChangeRequestID,
		ChangeRequestURL:  s.ChangeRequestURL,
		MergeReference:    s.MergeReference,
		ExternalRequestID: s.ExternalRequestID,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
		ShippedAt:         s.ShippedAt,
	}
	if f := s.LastFailure; f != nil {
		v.LastFailure = &FailView{Phase: string(f.Phase), Category: f.Category, Reason: f.Reason, At: f.At}
	}
	return v
}

func phaseNames(phases []model.Phase) []string {
	out := make([]string, 0, len(phases))
	for _, p := range phases {
		out = append(out, string(p))
	}
	return out
}

// printStateSummary writes the short human-readable form of a state
func printStateSummary(w io.Writer, s model.State) {
	fmt.Fprintf(w, "workflow:  %s\n", s.WorkflowID)
	fmt.Fprintf(w, "issue:     %s\n", s.IssueReference)
	if s.BranchName != "" {
		fmt.Fprintf(w, "branch:    %s\n", s.BranchName)
	}
	fmt.Fprintf(w, "completed: %s\n", strings.Join(phaseNames(s.CompletedPhases), ", "))
	if s.ChangeRequestURL != "" {
		fmt.Fprintf(w, "change:    %s\n", s.ChangeRequestURL)
	}
	if s.LastFailure != nil {
		fmt.Fprintf(w, "failed:    %s (%s): %s\n", s.LastFailure.Phase, s.LastFailure.Category, s.LastFailure.Reason)
	}
}

func printStateDetail(w io.Writer, v StateView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(k string, val interface{}) {
		if s, ok := val.(string); ok && s == "" {
			return
		}
		fmt.Fprintf(tw, "%s:\t%v\n", k, val)
	}
	row("Workflow", v.WorkflowID)
	row("Issue", v.IssueReference)
	row("Title", v.IssueTitle)
	row("Category", v.IssueCategory)
	row("Family", v.Family)
	row("Branch", v.BranchName)
	if v.WorktreePath != "" {
		valid := "unknown"
		if v.WorktreeValid != nil {
			valid = fmt.Sprintf("%t", *v.WorktreeValid)
		}
		fmt.Fprintf(tw, "Worktree:\t%s (valid: %s)\n", v.WorktreePath, valid)
	}
	if v.PrimaryPort != 0 {
		fmt.Fprintf(tw, "Ports:\t%d / %d\n", v.PrimaryPort, v.SecondaryPort)
	}
	row("Model tier", v.ModelTier)
	row("Plan", v.PlanArtifactPath)
	row("Docs", v.DocumentationPath)
	fmt.Fprintf(tw, "Completed:\t%s\n", strings.Join(v.CompletedPhases, ", "))
	if v.ReviewCycles > 0 {
		row("Review cycles", v.ReviewCycles)
	}
	row("Change request", v.ChangeRequestURL)
	row("Merge", v.MergeReference)
	if v.ShippedAt != nil {
		row("Shipped", v.ShippedAt.Format(time.RFC3339))
	}
	if f := v.LastFailure; f != nil {
		fmt.Fprintf(tw, "Last failure:\t%s [%s] %s\n", f.Phase, f.Category, f.Reason)
	}
	row("Updated", v.UpdatedAt.Format(time.RFC3339))
	tw.Flush()
}

func newStatusCmd() *cobra.Command {
	var (
		id     string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a workflow",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
				s, err := c.States().Load(ctx, id)
				if err != nil {
					return err
				}
				v := newStateView(s)
				if s.WorktreePath != "" {
					valid := c.Worktrees().Validate(ctx, s.WorkflowID, s.WorktreePath)
					v.WorktreeValid = &valid
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), v)
				}
				printStateDetail(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "workflow id (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// SummaryView is the JSON form of a workflow index row
type SummaryView struct {
	WorkflowID      string    `json:"workflow_id"`
	IssueReference  string    `json:"issue_reference"`
	IssueCategory   string    `json:"issue_category,omitempty"`
	BranchName      string    `json:"branch_name,omitempty"`
	PrimaryPort     int       `json:"primary_port,omitempty"`
	SecondaryPort   int       `json:"secondary_port,omitempty"`
	CompletedPhases []string  `json:"completed_phases"`
	LastPhase       string    `json:"last_phase,omitempty"`
	Shipped         bool      `json:"shipped"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func newListCmd() *cobra.Command {
	var (
		asJSON  bool
		pending bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known workflows, most recently updated first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
				rows, err := c.Index().List(ctx)
				if err != nil {
					return fmt.Errorf("failed to list workflows: %w", err)
				}

				views := make([]SummaryView, 0, len(rows))
				for _, r := range rows {
					if pending && r.Shipped {
						continue
					}
					views = append(views, SummaryView{
						WorkflowID:      r.WorkflowID,
						IssueReference:  r.IssueReference,
						IssueCategory:   string(r.IssueCategory),
						BranchName:      r.BranchName,
						PrimaryPort:     r.PrimaryPort,
						SecondaryPort:   r.SecondaryPort,
						CompletedPhases: phaseNames(r.CompletedPhases),
						LastPhase:       r.LastPhase,
						Shipped:         r.Shipped,
						UpdatedAt:       r.UpdatedAt,
					})
				}

				if asJSON {
					return writeJSON(cmd.OutOrStdout(), views)
				}
				if len(views) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No workflows found")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tISSUE\tCATEGORY\tLAST PHASE\tPORTS\tSTATUS\tUPDATED")
				for _, v := range views {
					status := "active"
					if v.Shipped {
						status = "shipped"
					}
					ports := "-"
					if v.PrimaryPort != 0 {
						ports = fmt.Sprintf("%d/%d", v.PrimaryPort, v.SecondaryPort)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
						v.WorkflowID, v.IssueReference, dash(v.IssueCategory), dash(v.LastPhase),
						ports, status, v.UpdatedAt.Format("2006-01-02 15:04"))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().BoolVar(&pending, "pending", false, "hide shipped workflows")
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

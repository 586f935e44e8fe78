package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/YoshitsuguKoike/asw/internal/app"
	"github.com/YoshitsuguKoike/asw/internal/domain/model/workflow"
	"github.com/YoshitsuguKoike/asw/internal/domain/repository"
)

// Template names looked up in the PromptTemplateRepository
const (
	TemplateClassify  = "classify"
	TemplatePlan      = "plan"
	TemplateBuild     = "build"
	TemplatePatch     = "patch"
	TemplateTestFix   = "test_fix"
	TemplateReview    = "review"
	TemplateReviewFix = "review_fix"
	TemplateDocument  = "document"
)

// PromptContext carries everything a phase prompt may reference
type PromptContext struct {
	WorkflowID        string
	IssueReference    string
	IssueTitle        string
	IssueBody         string
	Category          workflow.Category
	WorktreePath      string
	PlanArtifactPath  string
	DocumentationPath string
	PrimaryPort       int
	SecondaryPort     int
	// Feedback is failing test output or unresolved review issues
	Feedback string
	Cycle    int
}

// PromptBuilderService handles building prompts for the agent executor
type PromptBuilderService struct {
	templateRepo repository.PromptTemplateRepository
	logger       app.Logger
}

// NewPromptBuilderService creates a new prompt builder service.
// templateRepo may be nil, in which case only built-in prompts are used.
func NewPromptBuilderService(templateRepo repository.PromptTemplateRepository, logger app.Logger) *PromptBuilderService {
	if logger == nil {
		logger = app.NopLogger{}
	}
	return &PromptBuilderService{templateRepo: templateRepo, logger: logger}
}

// Build returns the prompt for template name, preferring an operator
// override over the built-in text
func (s *PromptBuilderService) Build(ctx context.Context, name string, pc PromptContext) string {
	if s.templateRepo != nil {
		tmpl, err := s.templateRepo.LoadTemplate(ctx, name)
		switch {
		case err == nil:
			return s.replacePlaceholders(tmpl, pc)
		case !errors.Is(err, repository.ErrTemplateNotFound):
			s.logger.Warn("prompt template %s unreadable, using built-in: %v", name, err)
		}
	}

	switch name {
	case TemplateClassify:
		return s.BuildClassifyPrompt(pc)
	case TemplatePlan:
		return s.BuildPlanPrompt(pc)
	case TemplateBuild:
		return s.BuildImplementPrompt(pc)
	case TemplatePatch:
		return s.BuildPatchPrompt(pc)
	case TemplateTestFix:
		return s.BuildTestFixPrompt(pc)
	case TemplateReview:
		return s.BuildReviewPrompt(pc)
	case TemplateReviewFix:
		return s.BuildReviewFixPrompt(pc)
	case TemplateDocument:
		return s.BuildDocumentPrompt(pc)
	}
	return pc.IssueBody
}

// replacePlaceholders replaces all template placeholders with actual values
func (s *PromptBuilderService) replacePlaceholders(template string, pc PromptContext) string {
	prompt := template
	prompt = strings.ReplaceAll(prompt, "{{.WorkflowID}}", pc.WorkflowID)
	prompt = strings.ReplaceAll(prompt, "{{.IssueReference}}", pc.IssueReference)
	prompt = strings.ReplaceAll(prompt, "{{.IssueTitle}}", pc.IssueTitle)
	prompt = strings.ReplaceAll(prompt, "{{.IssueBody}}", pc.IssueBody)
	prompt = strings.ReplaceAll(prompt, "{{.Category}}", string(pc.Category))
	prompt = strings.ReplaceAll(prompt, "{{.WorktreePath}}", pc.WorktreePath)
	prompt = strings.ReplaceAll(prompt, "{{.PlanArtifactPath}}", pc.PlanArtifactPath)
	prompt = strings.ReplaceAll(prompt, "{{.DocumentationPath}}", pc.DocumentationPath)
	prompt = strings.ReplaceAll(prompt, "{{.PrimaryPort}}", fmt.Sprintf("%d", pc.PrimaryPort))
	prompt = strings.ReplaceAll(prompt, "{{.SecondaryPort}}", fmt.Sprintf("%d", pc.SecondaryPort))
	prompt = strings.ReplaceAll(prompt, "{{.Feedback}}", pc.Feedback)
	prompt = strings.ReplaceAll(prompt, "{{.Cycle}}", fmt.Sprintf("%d", pc.Cycle))
	return prompt
}

func writeContext(sb *strings.Builder, pc PromptContext) {
	sb.WriteString("## Context\n")
	sb.WriteString(fmt.Sprintf("- Working Directory: `%s`\n", pc.WorktreePath))
	sb.WriteString(fmt.Sprintf("- Workflow ID: %s\n", pc.WorkflowID))
	sb.WriteString(fmt.Sprintf("- Issue: %s %s\n", pc.IssueReference, pc.IssueTitle))
	if pc.Category != "" {
		sb.WriteString(fmt.Sprintf("- Category: %s\n", pc.Category))
	}
	if pc.PrimaryPort > 0 {
		sb.WriteString(fmt.Sprintf("- Ports: ASW_PRIMARY_PORT=%d ASW_SECONDARY_PORT=%d (see %s)\n", pc.PrimaryPort, pc.SecondaryPort, app.PortsFileName))
	}
	sb.WriteString("\n")
}

// BuildClassifyPrompt asks for the issue category only
func (s *PromptBuilderService) BuildClassifyPrompt(pc PromptContext) string {
	var sb strings.Builder

	sb.WriteString("# Issue Classification\n\n")
	sb.WriteString(fmt.Sprintf("Issue %s: %s\n\n", pc.IssueReference, pc.IssueTitle))
	sb.WriteString(pc.IssueBody)
	sb.WriteString("\n\n")
	sb.WriteString("Reply with exactly one of `/feature`, `/bug`, `/chore` or `/patch`.\n")
	sb.WriteString("Do not read or modify any file.\n")

	return sb.String()
}

// BuildPlanPrompt creates a planning prompt
func (s *PromptBuilderService) BuildPlanPrompt(pc PromptContext) string {
	var sb strings.Builder

	sb.WriteString("# Planning Task\n\n")
	writeContext(&sb, pc)

	sb.WriteString("## Issue\n")
	sb.WriteString(pc.IssueBody)
	sb.WriteString("\n\n")

	sb.WriteString("## Instructions\n")
	sb.WriteString("1. Analyze the requirements and the existing code structure\n")
	sb.WriteString("2. Identify files that need to be modified\n")
	sb.WriteString("3. Break down the implementation into clear steps\n")
	sb.WriteString("4. Describe the testing strategy\n")
	sb.WriteString("\n")

	sb.WriteString("## Expected Output\n")
	sb.WriteString(fmt.Sprintf("Write the plan to `%s` and do not modify any other file.\n", pc.PlanArtifactPath))
	sb.WriteString("Finish your reply with the path of the plan file.\n")

	return sb.String()
}

// BuildImplementPrompt creates an implementation prompt
func (s *PromptBuilderService) BuildImplementPrompt(pc PromptContext) string {
	var sb strings.Builder

	sb.WriteString("# Implementation Task\n\n")
	writeContext(&sb, pc)

	sb.WriteString("## Plan\n")
	sb.WriteString(fmt.Sprintf("Read the plan at `%s` and implement it.\n\n", pc.PlanArtifactPath))

	sb.WriteString("## Instructions\n")
	sb.WriteString("1. Follow existing code patterns and conventions\n")
	sb.WriteString("2. Add or update tests for the changed behavior\n")
	sb.WriteString("3. Keep changes inside the working directory\n")
	sb.WriteString("4. Do not commit, push or open a pull request\n")
	sb.WriteString("\n")

	sb.WriteString("## Implementation Note\n")
	sb.WriteString("End with a section '## Implementation Note' containing a 2-3 sentence summary.\n")

	return sb.String()
}

// BuildPatchPrompt creates a direct-patch prompt. The issue body is the instruction.
func (s *PromptBuilderService) BuildPatchPrompt(pc PromptContext) string {
	var sb strings.Builder

	sb.WriteString("# Patch Task\n\n")
	writeContext(&sb, pc)

	sb.WriteString("## Instruction\n")
	sb.WriteString(pc.IssueBody)
	sb.WriteString("\n\n")

	sb.WriteString("## Instructions\n")
	sb.WriteString("1. Apply the smallest change that fulfils the instruction\n")
	sb.WriteString("2. Do not commit, push or open a pull request\n")
	sb.WriteString("\n")

	return sb.String()
}

// BuildTestFixPrompt asks the agent to repair failing verification
func (s *PromptBuilderService) BuildTestFixPrompt(pc PromptContext) string {
	var sb strings.Builder

	sb.WriteString("# Test Remediation Task\n\n")
	writeContext(&sb, pc)

	sb.WriteString(fmt.Sprintf("## Failing Output (attempt %d)\n", pc.Cycle))
	sb.WriteString("```\n")
	sb.WriteString(pc.Feedback)
	sb.WriteString("\n```\n\n")

	sb.WriteString("## Instructions\n")
	sb.WriteString("1. Find the root cause of the failure\n")
	sb.WriteString("2. Fix the code, not the assertion, unless the test itself is wrong\n")
	sb.WriteString("3. Do not commit, push or open a pull request\n")

	return sb.String()
}

// BuildReviewPrompt creates a review prompt with a JSON verdict
func (s *PromptBuilderService) BuildReviewPrompt(pc PromptContext) string {
	var sb strings.Builder

	sb.WriteString("# Code Review Task\n\n")
	writeContext(&sb, pc)

	sb.WriteString("## Review Process\n")
	if pc.PlanArtifactPath != "" {
		sb.WriteString(fmt.Sprintf("1. Read the plan at `%s`\n", pc.PlanArtifactPath))
	} else {
		sb.WriteString("1. Read the issue above\n")
	}
	sb.WriteString("2. Inspect the changes on this branch against the trunk\n")
	sb.WriteString("3. Check that the implementation matches the requirements\n")
	sb.WriteString("4. Do not modify any file\n")
	sb.WriteString("\n")

	sb.WriteString("## Output Format\n")
	sb.WriteString("Reply with a single JSON object:\n")
	sb.WriteString("```json\n")
	sb.WriteString(`{"success": true, "issues": [{"description": "...", "resolution": "...", "severity": "blocker|tech_debt|skippable"}]}`)
	sb.WriteString("\n```\n")
	sb.WriteString("Set success to false when any blocker remains.\n")

	return sb.String()
}

// BuildReviewFixPrompt asks the agent to resolve blocking review issues
func (s *PromptBuilderService) BuildReviewFixPrompt(pc PromptContext) string {
	var sb strings.Builder

	sb.WriteString("# Review Fix Task\n\n")
	writeContext(&sb, pc)

	sb.WriteString(fmt.Sprintf("## Blocking Issues (cycle %d)\n", pc.Cycle))
	sb.WriteString(pc.Feedback)
	sb.WriteString("\n\n")

	sb.WriteString("## Instructions\n")
	sb.WriteString("1. Resolve every blocking issue using the suggested resolution\n")
	sb.WriteString("2. Do not commit, push or open a pull request\n")

	return sb.String()
}

// BuildDocumentPrompt creates a documentation prompt
func (s *PromptBuilderService) BuildDocumentPrompt(pc PromptContext) string {
	var sb strings.Builder

	sb.WriteString("# Documentation Task\n\n")
	writeContext(&sb, pc)

	sb.WriteString("## Instructions\n")
	if pc.PlanArtifactPath != "" {
		sb.WriteString(fmt.Sprintf("1. Read the plan at `%s` and the changes on this branch\n", pc.PlanArtifactPath))
	} else {
		sb.WriteString("1. Read the changes on this branch\n")
	}
	sb.WriteString(fmt.Sprintf("2. Write user-facing documentation of the change to `%s`\n", pc.DocumentationPath))
	sb.WriteString("3. Update existing docs that the change makes inaccurate\n")
	sb.WriteString("4. Do not commit, push or open a pull request\n")
	sb.WriteString("\n")
	sb.WriteString("Finish with the path of the documentation file.\n")

	return sb.String()
}

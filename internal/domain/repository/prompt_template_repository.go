package repository

import (
	"context"
	"errors"
)

// ErrTemplateNotFound is returned when no override exists for a template name
var ErrTemplateNotFound = errors.New("prompt template not found")

// PromptTemplateRepository loads operator-provided prompt templates that
// replace the built-in phase prompts
type PromptTemplateRepository interface {
	// LoadTemplate loads the template registered under name (classify,
	// plan, build, patch, test_fix, review, review_fix, document)
	// Returns ErrTemplateNotFound when no override exists
	LoadTemplate(ctx context.Context, name string) (string, error)
}

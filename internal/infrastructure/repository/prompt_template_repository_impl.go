package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/asw/internal/domain/repository"
)

var templateNamePattern = regexp.MustCompile(`^[a-z_]+$`)

// PromptTemplateRepositoryImpl reads templates from <home>/prompts/<name>.md
type PromptTemplateRepositoryImpl struct {
	fs  afero.Fs
	dir string
}

// NewPromptTemplateRepositoryImpl creates a file-based prompt template repository
func NewPromptTemplateRepositoryImpl(fs afero.Fs, home string) *PromptTemplateRepositoryImpl {
	return &PromptTemplateRepositoryImpl{fs: fs, dir: filepath.Join(home, "prompts")}
}

// LoadTemplate loads the override for name
func (r *PromptTemplateRepositoryImpl) LoadTemplate(ctx context.Context, name string) (string, error) {
	if !templateNamePattern.MatchString(name) {
		return "", fmt.Errorf("invalid template name %q", name)
	}

	path := filepath.Join(r.dir, name+".md")
	exists, err := afero.Exists(r.fs, path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if !exists {
		return "", repository.ErrTemplateNotFound
	}

	data, err := afero.ReadFile(r.fs, path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// Dir returns the directory templates are read from
func (r *PromptTemplateRepositoryImpl) Dir() string {
	return r.dir
}

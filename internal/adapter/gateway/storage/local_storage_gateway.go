package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/asw/internal/application/port/output"
	"github.com/YoshitsuguKoike/asw/internal/infra/persistence/file"
)

// LocalStorageGateway implements StorageGateway on an afero filesystem
// Directory structure: <baseDir>/<workflowID>/<artifactID>/
//   - content: actual artifact content
//   - metadata.json: artifact metadata
type LocalStorageGateway struct {
	fs      afero.Fs
	baseDir string
}

// NewLocalStorageGateway creates a storage gateway rooted at baseDir
func NewLocalStorageGateway(fs afero.Fs, baseDir string) (*LocalStorageGateway, error) {
	if err := fs.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &LocalStorageGateway{fs: fs, baseDir: baseDir}, nil
}

// SaveArtifact saves an artifact under its workflow directory
func (g *LocalStorageGateway) SaveArtifact(ctx context.Context, req output.SaveArtifactRequest) (*output.ArtifactMetadata, error) {
	if req.WorkflowID == "" {
		return nil, errors.New("workflow id is required")
	}
	artifactID := newArtifactID()
	artifactDir := filepath.Join(g.baseDir, req.WorkflowID, artifactID)
	if err := g.fs.MkdirAll(artifactDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}

	contentPath := filepath.Join(artifactDir, "content")
	if err := file.WriteFileAtomic(g.fs, contentPath, req.Content, 0o644); err != nil {
		return nil, fmt.Errorf("write artifact content: %w", err)
	}

	metadata := output.ArtifactMetadata{
		ID:          artifactID,
		WorkflowID:  req.WorkflowID,
		Type:        req.ArtifactType,
		Name:        req.Name,
		StoragePath: contentPath,
		ContentType: req.ContentType,
		Size:        int64(len(req.Content)),
		UploadedAt:  time.Now().UTC(),
		Metadata:    req.Metadata,
	}

	metadataJSON, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := file.WriteFileAtomic(g.fs, filepath.Join(artifactDir, "metadata.json"), metadataJSON, 0o644); err != nil {
		return nil, fmt.Errorf("write metadata: %w", err)
	}

	return &metadata, nil
}

// LoadArtifact retrieves an artifact of a workflow
func (g *LocalStorageGateway) LoadArtifact(ctx context.Context, workflowID, artifactID string) (*output.Artifact, error) {
	artifactDir := filepath.Join(g.baseDir, workflowID, artifactID)

	metadata, err := g.readMetadata(filepath.Join(artifactDir, "metadata.json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("artifact not found: %s/%s", workflowID, artifactID)
		}
		return nil, err
	}

	content, err := afero.ReadFile(g.fs, filepath.Join(artifactDir, "content"))
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}

	return &output.Artifact{ID: artifactID, Content: content, Metadata: *metadata}, nil
}

// ListArtifacts lists artifacts of a workflow ordered by upload time
func (g *LocalStorageGateway) ListArtifacts(ctx context.Context, workflowID string) ([]*output.ArtifactMetadata, error) {
	dir := filepath.Join(g.baseDir, workflowID)
	entries, err := afero.ReadDir(g.fs, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*output.ArtifactMetadata{}, nil
		}
		return nil, fmt.Errorf("read workflow archive directory: %w", err)
	}

	list := []*output.ArtifactMetadata{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		metadata, err := g.readMetadata(filepath.Join(dir, entry.Name(), "metadata.json"))
		if err != nil {
			// Skip artifacts with missing or invalid metadata
			continue
		}
		list = append(list, metadata)
	}

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (g *LocalStorageGateway) readMetadata(path string) (*output.ArtifactMetadata, error) {
	data, err := afero.ReadFile(g.fs, path)
	if err != nil {
		return nil, err
	}
	var metadata output.ArtifactMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &metadata, nil
}

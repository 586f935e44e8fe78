package output

import (
	"context"
	"time"
)

// StorageGateway archives the audit artefacts of shipped workflows
// Supports both local filesystem and S3
type StorageGateway interface {
	// SaveArtifact persists an artifact to storage
	SaveArtifact(ctx context.Context, req SaveArtifactRequest) (*ArtifactMetadata, error)

	// LoadArtifact retrieves an artifact of a workflow
	LoadArtifact(ctx context.Context, workflowID, artifactID string) (*Artifact, error)

	// ListArtifacts lists artifacts archived for a workflow
	ListArtifacts(ctx context.Context, workflowID string) ([]*ArtifactMetadata, error)
}

// SaveArtifactRequest represents a request to save an artifact
type SaveArtifactRequest struct {
	WorkflowID   string
	ArtifactType ArtifactType
	Name         string // Original file name, e.g. asw_state.yaml
	Content      []byte
	ContentType  string
	Metadata     map[string]string
}

// ArtifactType represents the type of artifact
type ArtifactType string

const (
	ArtifactTypeState         ArtifactType = "state"
	ArtifactTypeJournal       ArtifactType = "journal"
	ArtifactTypePlan          ArtifactType = "plan"
	ArtifactTypeDocumentation ArtifactType = "documentation"
)

// Artifact represents a stored artifact
type Artifact struct {
	ID       string
	Content  []byte
	Metadata ArtifactMetadata
}

// ArtifactMetadata contains information about an artifact
type ArtifactMetadata struct {
	ID          string            `json:"id"`
	WorkflowID  string            `json:"workflow_id"`
	Type        ArtifactType      `json:"type"`
	Name        string            `json:"name"`
	StoragePath string            `json:"storage_path"` // e.g. s3://bucket/key
	ContentType string            `json:"content_type,omitempty"`
	Size        int64             `json:"size"`
	UploadedAt  time.Time         `json:"uploaded_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

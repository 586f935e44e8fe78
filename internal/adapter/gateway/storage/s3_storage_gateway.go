package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/YoshitsuguKoike/asw/internal/application/port/output"
)

// S3StorageGateway implements StorageGateway using AWS S3
// Key structure: <prefix>/workflows/<workflowID>/<artifactID>/
//   - content: actual artifact content
//   - metadata.json: artifact metadata
type S3StorageGateway struct {
	client     S3API
	bucketName string
	prefix     string
}

// S3Config holds S3 storage gateway configuration
type S3Config struct {
	BucketName string
	Prefix     string // Optional key prefix (e.g. "asw/prod")
	Region     string // Uses the SDK default chain when empty
}

// NewS3StorageGateway creates a gateway with credentials from the default AWS chain
func NewS3StorageGateway(ctx context.Context, cfg S3Config) (*S3StorageGateway, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("s3 bucket name is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return NewS3StorageGatewayWithClient(s3.NewFromConfig(awsCfg), cfg.BucketName, cfg.Prefix), nil
}

// NewS3StorageGatewayWithClient creates a gateway with a custom S3 client
// This is primarily used for testing with fake S3 clients
func NewS3StorageGatewayWithClient(client S3API, bucketName, prefix string) *S3StorageGateway {
	return &S3StorageGateway{
		client:     client,
		bucketName: bucketName,
		prefix:     strings.Trim(prefix, "/"),
	}
}

// SaveArtifact uploads content and metadata.json
func (g *S3StorageGateway) SaveArtifact(ctx context.Context, req output.SaveArtifactRequest) (*output.ArtifactMetadata, error) {
	if req.WorkflowID == "" {
		return nil, errors.New("workflow id is required")
	}
	artifactID := newArtifactID()
	contentKey := g.key(req.WorkflowID, artifactID, "content")

	objectMetadata := map[string]string{
		"artifact-id":   artifactID,
		"workflow-id":   req.WorkflowID,
		"artifact-type": string(req.ArtifactType),
	}
	for k, v := range req.Metadata {
		objectMetadata[k] = v
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if _, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucketName),
		Key:         aws.String(contentKey),
		Body:        bytes.NewReader(req.Content),
		ContentType: aws.String(contentType),
		Metadata:    objectMetadata,
	}); err != nil {
		return nil, fmt.Errorf("upload to S3: %w", err)
	}

	metadata := output.ArtifactMetadata{
		ID:          artifactID,
		WorkflowID:  req.WorkflowID,
		Type:        req.ArtifactType,
		Name:        req.Name,
		StoragePath: fmt.Sprintf("s3://%s/%s", g.bucketName, contentKey),
		ContentType: contentType,
		Size:        int64(len(req.Content)),
		UploadedAt:  time.Now().UTC(),
		Metadata:    req.Metadata,
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if _, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucketName),
		Key:         aws.String(g.key(req.WorkflowID, artifactID, "metadata.json")),
		Body:        bytes.NewReader(metadataJSON),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return nil, fmt.Errorf("upload metadata to S3: %w", err)
	}

	return &metadata, nil
}

// LoadArtifact downloads an artifact and its metadata
func (g *S3StorageGateway) LoadArtifact(ctx context.Context, workflowID, artifactID string) (*output.Artifact, error) {
	metadataJSON, err := g.get(ctx, g.key(workflowID, artifactID, "metadata.json"))
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("artifact not found: %s/%s", workflowID, artifactID)
		}
		return nil, fmt.Errorf("download metadata from S3: %w", err)
	}

	var metadata output.ArtifactMetadata
	if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}

	content, err := g.get(ctx, g.key(workflowID, artifactID, "content"))
	if err != nil {
		return nil, fmt.Errorf("download content from S3: %w", err)
	}

	return &output.Artifact{ID: artifactID, Content: content, Metadata: metadata}, nil
}

// ListArtifacts lists artifacts archived for a workflow, following pagination
func (g *S3StorageGateway) ListArtifacts(ctx context.Context, workflowID string) ([]*output.ArtifactMetadata, error) {
	prefix := g.key(workflowID) + "/"
	list := []*output.ArtifactMetadata{}

	var token *string
	for {
		page, err := g.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(g.bucketName),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list S3 objects: %w", err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, "/metadata.json") {
				continue
			}
			data, err := g.get(ctx, key)
			if err != nil {
				// Skip artifacts with download errors
				continue
			}
			var metadata output.ArtifactMetadata
			if err := json.Unmarshal(data, &metadata); err != nil {
				continue
			}
			list = append(list, &metadata)
		}

		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			break
		}
		token = page.NextContinuationToken
	}

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (g *S3StorageGateway) get(ctx context.Context, key string) ([]byte, error) {
	obj, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer obj.Body.Close()
	return io.ReadAll(obj.Body)
}

// key builds an object key below <prefix>/workflows
func (g *S3StorageGateway) key(parts ...string) string {
	all := append([]string{"workflows"}, parts...)
	if g.prefix != "" {
		all = append([]string{g.prefix}, all...)
	}
	return path.Join(all...)
}

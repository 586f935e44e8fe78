package storage

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/asw/internal/app/config"
	"github.com/YoshitsuguKoike/asw/internal/application/port/output"
)

func gateways(t *testing.T) map[string]output.StorageGateway {
	t.Helper()
	local, err := NewLocalStorageGateway(afero.NewMemMapFs(), "/archive")
	require.NoError(t, err)
	return map[string]output.StorageGateway{
		"local": local,
		"s3":    NewS3StorageGatewayWithClient(newFakeS3(), "bucket", "asw/prod/"),
	}
}

func TestStorageGateway_SaveAndLoad(t *testing.T) {
	for name, g := range gateways(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			content := []byte("workflow_id: abc12345\n")

			meta, err := g.SaveArtifact(ctx, output.SaveArtifactRequest{
				WorkflowID:   "abc12345",
				ArtifactType: output.ArtifactTypeState,
				Name:         "asw_state.yaml",
				Content:      content,
				ContentType:  "application/yaml",
				Metadata:     map[string]string{"merge-reference": "deadbeef"},
			})
			require.NoError(t, err)
			assert.Len(t, meta.ID, 26)
			assert.Equal(t, int64(len(content)), meta.Size)

			artifact, err := g.LoadArtifact(ctx, "abc12345", meta.ID)
			require.NoError(t, err)
			assert.Equal(t, content, artifact.Content)
			assert.Equal(t, "asw_state.yaml", artifact.Metadata.Name)
			assert.Equal(t, output.ArtifactTypeState, artifact.Metadata.Type)
			assert.Equal(t, "deadbeef", artifact.Metadata.Metadata["merge-reference"])

			_, err = g.LoadArtifact(ctx, "abc12345", "missing")
			assert.ErrorContains(t, err, "artifact not found")
		})
	}
}

func TestStorageGateway_List(t *testing.T) {
	for name, g := range gateways(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			empty, err := g.ListArtifacts(ctx, "nothing1")
			require.NoError(t, err)
			assert.Empty(t, empty)

			for _, typ := range []output.ArtifactType{output.ArtifactTypeState, output.ArtifactTypeJournal, output.ArtifactTypePlan} {
				_, err := g.SaveArtifact(ctx, output.SaveArtifactRequest{WorkflowID: "abc12345", ArtifactType: typ, Content: []byte(typ)})
				require.NoError(t, err)
			}
			_, err = g.SaveArtifact(ctx, output.SaveArtifactRequest{WorkflowID: "other123", ArtifactType: output.ArtifactTypeState, Content: []byte("x")})
			require.NoError(t, err)

			list, err := g.ListArtifacts(ctx, "abc12345")
			require.NoError(t, err)
			require.Len(t, list, 3)
			for _, m := range list {
				assert.Equal(t, "abc12345", m.WorkflowID)
			}
		})
	}
}

func TestS3StorageGateway_ListFollowsPagination(t *testing.T) {
	client := newFakeS3()
	client.pageSize = 3
	g := NewS3StorageGatewayWithClient(client, "bucket", "")

	for i := 0; i < 4; i++ {
		_, err := g.SaveArtifact(context.Background(), output.SaveArtifactRequest{WorkflowID: "abc12345", Content: []byte{byte(i)}})
		require.NoError(t, err)
	}
	assert.Equal(t, 8, client.count())

	list, err := g.ListArtifacts(context.Background(), "abc12345")
	require.NoError(t, err)
	assert.Len(t, list, 4)
}

func TestSaveArtifact_RequiresWorkflowID(t *testing.T) {
	for name, g := range gateways(t) {
		t.Run(name, func(t *testing.T) {
			_, err := g.SaveArtifact(context.Background(), output.SaveArtifactRequest{Content: []byte("x")})
			assert.Error(t, err)
		})
	}
}

func TestNewStorageGateway(t *testing.T) {
	g, err := NewStorageGateway(context.Background(), config.ArchiveConfig{Type: "none"}, afero.NewMemMapFs())
	require.NoError(t, err)
	assert.Nil(t, g)

	g, err = NewStorageGateway(context.Background(), config.ArchiveConfig{Type: "local", Dir: "/a"}, afero.NewMemMapFs())
	require.NoError(t, err)
	assert.IsType(t, &LocalStorageGateway{}, g)

	_, err = NewStorageGateway(context.Background(), config.ArchiveConfig{Type: "gcs"}, afero.NewMemMapFs())
	assert.Error(t, err)
}

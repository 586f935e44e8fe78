package version

import (
	"bytes"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/asw/internal/buildinfo"
)

func TestNewCommand(t *testing.T) {
	cmd := NewCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "version", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)
	assert.NotNil(t, cmd.Run)
}

func TestVersionCommand_Output(t *testing.T) {
	orig := buildinfo.Version
	buildinfo.Version = "v1.2.3"
	defer func() { buildinfo.Version = orig }()

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"full", nil, []string{"asw version v1.2.3", runtime.Version(), runtime.GOOS + "/" + runtime.GOARCH}},
		{"short", []string{"--short"}, []string{"v1.2.3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			cmd := NewCommand()
			cmd.SetOut(&out)
			cmd.SetArgs(tt.args)
			require.NoError(t, cmd.Execute())
			for _, w := range tt.want {
				assert.Contains(t, out.String(), w)
			}
		})
	}

	var out bytes.Buffer
	cmd := NewCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--short"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "v1.2.3", strings.TrimSpace(out.String()))
}

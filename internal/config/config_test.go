package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
listen: ":8090"
database: /var/lib/blockflow/flows.db
strict: true
tick_interval: 250ms
codec: msgpack
reconnect:
  max: 5s
`))
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.Listen)
	assert.Equal(t, "/var/lib/blockflow/flows.db", cfg.Database)
	assert.True(t, cfg.Strict)
	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, "msgpack", cfg.Codec)
	assert.Equal(t, 5*time.Second, cfg.Reconnect.Max)
	// untouched fields keep their defaults
	assert.Equal(t, Default().Reconnect.Min, cfg.Reconnect.Min)
	assert.Equal(t, Default().FrameBudget, cfg.FrameBudget)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("databse: x.db\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"codec", "codec: xml\n", "codec"},
		{"database", "database: \"\"\n", "database"},
		{"tick", "tick_interval: 0s\n", "tick_interval"},
		{"frame budget", "frame_budget: 10\n", "frame_budget"},
		{"desc budget above frame budget", "frame_budget: 2048\ndesc_frame_budget: 4096\n", "desc_frame_budget"},
		{"reconnect order", "reconnect:\n  min: 10s\n  max: 1s\n", "reconnect.max"},
		{"listen", "listen: nope\n", "listen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			var cerr *Error
			require.ErrorAs(t, err, &cerr)
			require.NotEmpty(t, cerr.Fields)
			assert.Contains(t, cerr.Fields[0], tt.field)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blockflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("flows_dir: flows\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "flows", cfg.FlowsDir)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

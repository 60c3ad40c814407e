package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadRuns(t *testing.T, body string) (*Config, string) {
	t.Helper()
	dir := t.TempDir()
	cfg, err := Load(writeConfig(t, dir, "config.yaml", body))
	require.NoError(t, err)
	return cfg, dir
}

func TestRunDecodesAllFields(t *testing.T) {
	cfg, dir := loadRuns(t, `
runs:
  png:
    command: "./target --mode png"
    payload_file: seed.png
    timeout: 2s
    capacity: 65536
    retain_process: true
`)

	rc, err := cfg.Run("png", dir)
	require.NoError(t, err)
	assert.Equal(t, "png", rc.Name)
	assert.Equal(t, "./target --mode png", rc.Command)
	assert.Equal(t, filepath.Join(dir, "seed.png"), rc.PayloadFile)
	assert.Equal(t, 2*time.Second, rc.Timeout)
	assert.Equal(t, 65536, rc.Capacity)
	assert.True(t, rc.RetainProcess)
}

func TestRunInlinePayloads(t *testing.T) {
	cfg, _ := loadRuns(t, `
runs:
  text:
    args: [cat]
    payload: "hello\n"
  binary:
    command: cat
    payload_bytes: !!binary AAEC/w==
`)

	text, err := cfg.Run("text", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"cat"}, text.Args)
	payload, err := text.LoadPayload()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello\n"), payload)

	bin, err := cfg.Run("binary", "")
	require.NoError(t, err)
	payload, err = bin.LoadPayload()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01, 0x02, 0xff}, payload)
}

func TestRunLoadPayloadFromFile(t *testing.T) {
	cfg, dir := loadRuns(t, `
runs:
  file:
    command: cat
    payload_file: seed.bin
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seed.bin"), []byte("from disk"), 0600))

	rc, err := cfg.Run("file", dir)
	require.NoError(t, err)
	payload, err := rc.LoadPayload()
	require.NoError(t, err)
	assert.Equal(t, "from disk", string(payload))
}

func TestRunRejectsInvalidDefinitions(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "command: cat\ncolour: red", "unknown key"},
		{"two payload sources", "command: cat\npayload: a\npayload_file: b", "mutually exclusive"},
		{"args not strings", "args: [cat, 1]", "args must be"},
		{"negative capacity", "command: cat\ncapacity: -1", "capacity must be"},
		{"retain not bool", "command: cat\nretain_process: yes please", "retain_process must be"},
		{"negative timeout", "command: cat\ntimeout: -1s", "timeout must not be negative"},
		{"not a mapping", "- cat", "must be a mapping"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := ParseOptions([]byte(tt.body))
			if err != nil {
				assert.Contains(t, err.Error(), tt.want)
				return
			}
			_, err = decodeRun("bad", opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunUndefined(t *testing.T) {
	cfg := Defaults()
	_, err := cfg.Run("ghost", "")
	assert.ErrorContains(t, err, "not defined")
}

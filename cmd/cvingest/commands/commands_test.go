package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cv-ingest/internal/config"
)

func TestReadDocument_InfersMIMEFromExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Resume.DOCX")
	require.NoError(t, os.WriteFile(path, []byte("PK"), 0o644))

	doc, err := readDocument(path, "")
	require.NoError(t, err)
	assert.Equal(t, "Resume.DOCX", doc.Filename)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.wordprocessingml.document", doc.MIMEType)
	assert.Equal(t, 2, doc.Size())

	doc, err = readDocument(path, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", doc.MIMEType)
}

func TestReadDocument_MissingFile(t *testing.T) {
	_, err := readDocument(filepath.Join(t.TempDir(), "nope.pdf"), "")
	assert.Error(t, err)
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, "", map[string]string{"name": "<Ada>"}))
	assert.Contains(t, buf.String(), `"name": "<Ada>"`)

	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, writeJSON(&buf, path, map[string]int{"n": 1}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]int
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 1, got["n"])
}

func TestInitConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"init-config", path})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, Execute())
	assert.Contains(t, out.String(), path)

	loaded, err := config.LoadConfigFromFileOnly(path)
	require.NoError(t, err)
	assert.NoError(t, loaded.Validate())

	// 已存在的文件不会被覆盖
	rootCmd.SetArgs([]string{"init-config", path})
	assert.Error(t, Execute())
}

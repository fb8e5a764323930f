package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestReadRawDocument_Envelope(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "form.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"d":{"formTitle":"Wrapped","subjectUserId":"emp9"}}`), 0o644))

	doc, err := readRawDocument(path)
	require.NoError(t, err)
	assert.Equal(t, "Wrapped", doc.Title())
	assert.Equal(t, "emp9", doc.SubjectID())

	_, err = readRawDocument(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestNormalizeCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"normalize", "--kind", "pm", "--actor", "mgr1",
		filepath.Join("..", "internal", "normalizer", "testdata", "pm_form.json")})
	require.NoError(t, rootCmd.Execute())

	var parsed struct {
		Title    string                    `yaml:"title"`
		Sections []map[string]any          `yaml:"sections"`
		Edits    map[string]map[string]any `yaml:"edits"`
	}
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &parsed))
	assert.Equal(t, "2025 Annual Review", parsed.Title)
	require.NotEmpty(t, parsed.Sections)
	assert.Equal(t, "intro", parsed.Sections[0]["id"])
	assert.Equal(t, "rk101", parsed.Edits["obj_0_101"]["ratingKey"])
}

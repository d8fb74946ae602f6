package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFences(t *testing.T) {
	tests := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n[1,2]\n```":         `[1,2]`,
		"```{\"a\":1}```":         `{"a":1}`,
		"  plain text ":           "plain text",
		"```JSON\n{}\n```":        `{}`,
	}
	for in, want := range tests {
		assert.Equal(t, want, StripCodeFences(in), in)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "añ", Truncate("año", 2))
	assert.Equal(t, "año", Truncate("año", 10))
	assert.Equal(t, "", Truncate("año", 0))
}

func TestSniffMimeHTTP(t *testing.T) {
	assert.Equal(t, "image/jpeg", SniffMimeHTTP([]byte{0xFF, 0xD8, 0xFF}))
	assert.Equal(t, "image/png", SniffMimeHTTP([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0}))
	assert.Equal(t, "image/webp", SniffMimeHTTP([]byte("RIFF\x00\x00\x00\x00WEBPVP8 ")))
	assert.Equal(t, "application/pdf", SniffMimeHTTP([]byte("%PDF-1.7")))
	assert.Equal(t, "application/octet-stream", SniffMimeHTTP([]byte("hello")))
	assert.Equal(t, ".webp", ExtFromMIME("image/webp"))
	assert.Equal(t, "", ExtFromMIME("text/plain"))
}

func TestDecodeBase64MaybeDataURL(t *testing.T) {
	b, mime, err := DecodeBase64MaybeDataURL(MakeDataURL("image/png", []byte("xyz")))
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, []byte("xyz"), b)

	_, _, err = DecodeBase64MaybeDataURL("***")
	assert.Error(t, err)
}

func TestLoadPrompt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chat.txt"), []byte(" custom \n"), 0o644))
	t.Setenv("PROMPT_DIR", dir)

	assert.Equal(t, "custom", LoadPrompt("chat", "default"))
	assert.Equal(t, "default", LoadPrompt("vision", "default"))
}

func TestFixJSONSchemaStrict(t *testing.T) {
	m, err := ParseSchema("t", `{"properties":{"a":{"type":"string"},"b":{"type":"array","items":{"properties":{"c":{"type":"number"}}}}}}`)
	require.NoError(t, err)
	FixJSONSchemaStrict(m)

	assert.Equal(t, "object", m["type"])
	assert.NotContains(t, m, "$schema")
	assert.ElementsMatch(t, []any{"a", "b"}, m["required"])
	item := m["properties"].(map[string]any)["b"].(map[string]any)["items"].(map[string]any)
	assert.Equal(t, false, item["additionalProperties"])
}

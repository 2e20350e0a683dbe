package generation

import (
	"encoding/json"
	"testing"
)

func TestDecodeMetadataWithoutTitleFailsValidation(t *testing.T) {
	raw := metadataJSON(t)
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	delete(obj, "title")

	meta := decodeMetadata(obj)
	if meta.Title != "" {
		t.Fatalf("missing title decoded as %q, want empty", meta.Title)
	}
	if err := ValidateMetadata(meta); err == nil {
		t.Fatal("metadata without a title passed validation")
	}
}

func TestDecodeMetadataNonStringFieldsStringified(t *testing.T) {
	meta := decodeMetadata(map[string]any{
		"title":       "  Spaced Title  ",
		"description": 42,
	})
	if meta.Title != "Spaced Title" {
		t.Fatalf("title = %q", meta.Title)
	}
	if meta.Description != "42" {
		t.Fatalf("description = %q", meta.Description)
	}
}

package models

// ExtractResult is the output of a mode-specific extractor: normalized
// markdown content plus whatever structured metadata the mode recognizes.
// Modes that find nothing leave Metadata fields absent rather than failing.
type ExtractResult struct {
	Title    string            `json:"title"`
	Content  string            `json:"content"` // normalized markdown
	Metadata map[string]string `json:"metadata,omitempty"`
}

package domain

// DocumentRef is the catalog projection the core needs when assembling
// client-facing sources: a stable id, a display name, and optionally a
// freshly signed URL for citation preview. The catalog itself lives in an
// external subsystem.
type DocumentRef struct {
	ID         string `json:"id"`
	FileName   string `json:"file_name"`
	PreviewURL string `json:"preview_url,omitempty"`
}

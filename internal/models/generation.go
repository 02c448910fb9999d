package models

// These structs define the shapes exchanged with the AI backend, the similarity
// search service and the renderer. Adapters translate them to SDK types.

// FileState is the activation state reported by the AI backend's file registry.
type FileState string

const (
	FileStateUnspecified FileState = "STATE_UNSPECIFIED"
	FileStateProcessing  FileState = "PROCESSING"
	FileStateActive      FileState = "ACTIVE"
	FileStateFailed      FileState = "FAILED"
)

// FileHandle references a file registered with the AI backend.
type FileHandle struct {
	Name     string    `firestore:"name" json:"name"`
	URI      string    `firestore:"uri,omitempty" json:"uri,omitempty"`
	MIMEType string    `firestore:"mimeType,omitempty" json:"mimeType,omitempty"`
	State    FileState `firestore:"state" json:"state"`
}

// Pending reports whether the backend is still preparing the file.
func (h FileHandle) Pending() bool {
	return h.State == FileStateProcessing || h.State == FileStateUnspecified || h.State == ""
}

// Blob is inline binary content sent with a request.
type Blob struct {
	MIMEType string
	Data     []byte
}

// Part is one piece of a Content. Exactly one of Text, Blob or FileURI is set.
type Part struct {
	Text     string
	Blob     *Blob
	FileURI  string
	MIMEType string // for FileURI parts
}

// TextPart is shorthand for a text-only Part.
func TextPart(s string) Part { return Part{Text: s} }

// BlobPart is shorthand for an inline-data Part.
func BlobPart(mimeType string, data []byte) Part {
	return Part{Blob: &Blob{MIMEType: mimeType, Data: data}}
}

// Content is one conversational turn of a generation request.
type Content struct {
	Role  TurnRole
	Parts []Part
}

// SafetyOptions tunes the backend's harm filters for a request.
type SafetyOptions struct {
	// RelaxHarmFilters disables category blocking for technical material that
	// trips filters (e.g. hazardous-substance datasheets).
	RelaxHarmFilters bool
}

// GenerationRequest is a single call to the generative backend.
type GenerationRequest struct {
	SystemInstruction string
	Contents          []Content
	Safety            SafetyOptions
}

// Match is one similarity search hit.
type Match struct {
	ID         string
	Score      float32
	DocumentID string
	Text       string
}

// RenderOptions controls HTML to PDF conversion.
type RenderOptions struct {
	PaperSize    string // "A4" or "Letter"
	Landscape    bool
	MarginInches float64
}

// TextStream yields generated text chunks in order. Next returns io.EOF once
// the stream is exhausted; any other error ends the stream.
type TextStream interface {
	Next() (string, error)
	Close() error
}

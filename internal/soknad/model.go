// Package soknad holds the payloads carried on the stage topics and the narrow
// interfaces of the external systems the stages call.
package soknad

import (
	"errors"
	"time"

	errspkg "github.com/drblury/soknadflow/internal/runtime/errors"
)

// Submission is the record accepted by the front door and published to the
// received topic.
type Submission struct {
	ID            string     `json:"id"`
	FormNumber    string     `json:"skjemanummer"`
	Theme         string     `json:"tema"`
	Language      string     `json:"spraak,omitempty"`
	SubmitterID   string     `json:"innsender_id"`
	SubmittedAt   time.Time  `json:"innsendt_dato"`
	Documents     []Document `json:"dokumenter"`
	Ettersendelse bool       `json:"ettersendelse,omitempty"`
}

// Document is one form or attachment slot of a submission.
type Document struct {
	ID          string       `json:"id"`
	FormNumber  string       `json:"skjemanummer"`
	Title       string       `json:"tittel"`
	IsMain      bool         `json:"er_hoveddokument"`
	Attachments []Attachment `json:"vedlegg,omitempty"`
}

// Attachment is an uploaded file variant belonging to a document.
type Attachment struct {
	ID         string `json:"id"`
	FileName   string `json:"filnavn"`
	MimeType   string `json:"mimetype"`
	Variant    string `json:"variant"`
	StorageKey string `json:"storage_key"`
}

// Artifact kinds produced by preprocessing.
const (
	ArtifactMainPDF   = "hoveddokument_pdf"
	ArtifactArchive   = "arkivvariant"
	ArtifactMetadata  = "metadata_json"
	ArtifactConverted = "konvertert_vedlegg"
)

// ArtifactRef points at a file generated during preprocessing.
type ArtifactRef struct {
	ID         string `json:"id"`
	DocumentID string `json:"dokument_id"`
	Kind       string `json:"type"`
	StorageKey string `json:"storage_key"`
	MimeType   string `json:"mimetype"`
}

// PreprocessedSubmission is the submission enriched with generated artifacts.
type PreprocessedSubmission struct {
	Submission Submission    `json:"soknad"`
	Artifacts  []ArtifactRef `json:"artefakter"`
}

// ArchivedSubmission records where a submission ended up in the archive.
type ArchivedSubmission struct {
	SubmissionID string        `json:"soknad_id"`
	Theme        string        `json:"tema"`
	ArchiveID    string        `json:"journalpost_id"`
	Artifacts    []ArtifactRef `json:"artefakter"`
	ArchivedAt   time.Time     `json:"arkivert_dato"`
}

// CleanupInstruction tells the last stage which transient files to remove.
type CleanupInstruction struct {
	SubmissionID string        `json:"soknad_id"`
	ArchiveID    string        `json:"journalpost_id"`
	TaskID       string        `json:"oppgave_id,omitempty"`
	Artifacts    []ArtifactRef `json:"artefakter"`
}

// Validate reports the problems that make a submission unusable for the
// pipeline.
func (s Submission) Validate() error {
	var errs []error
	if s.ID == "" {
		errs = append(errs, errspkg.ErrSubmissionIDRequired)
	}
	if s.Theme == "" {
		errs = append(errs, errors.New("submission: tema is required"))
	}
	if s.FormNumber == "" {
		errs = append(errs, errors.New("submission: skjemanummer is required"))
	}
	mains := 0
	for _, doc := range s.Documents {
		if doc.IsMain {
			mains++
		}
	}
	if len(s.Documents) > 0 && mains != 1 {
		errs = append(errs, errors.New("submission: exactly one main document is required"))
	}
	return errors.Join(errs...)
}

// MainDocument returns the document flagged as main, if any.
func (s Submission) MainDocument() (Document, bool) {
	for _, doc := range s.Documents {
		if doc.IsMain {
			return doc, true
		}
	}
	return Document{}, false
}

package soknad

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/drblury/soknadflow/internal/runtime/envelope"
	"github.com/drblury/soknadflow/internal/runtime/faults"
	"github.com/drblury/soknadflow/internal/runtime/ids"
	"github.com/drblury/soknadflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/soknadflow/internal/runtime/logging"
)

// LocalStore is an in-memory stand-in for the transient file storage shared by
// the preprocessor and the cleaner.
type LocalStore struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func NewLocalStore() *LocalStore {
	return &LocalStore{files: make(map[string][]byte)}
}

func (s *LocalStore) Put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key] = data
}

func (s *LocalStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[key]
	return data, ok
}

func (s *LocalStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, key)
}

// Keys returns the stored keys in sorted order.
func (s *LocalStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.files))
	for k := range s.files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LocalPreprocessor writes a metadata document and one artifact per document
// into the store instead of calling the PDF and conversion services.
type LocalPreprocessor struct {
	store *LocalStore
}

func NewLocalPreprocessor(store *LocalStore) *LocalPreprocessor {
	return &LocalPreprocessor{store: store}
}

func (p *LocalPreprocessor) Preprocess(ctx context.Context, submission Submission) (PreprocessedSubmission, error) {
	// An invalid submission never becomes valid on retry.
	if err := submission.Validate(); err != nil {
		return PreprocessedSubmission{}, faults.Fatal(err)
	}

	meta, err := jsoncodec.Marshal(submission)
	if err != nil {
		return PreprocessedSubmission{}, fmt.Errorf("render metadata: %w", err)
	}
	metaKey := storageKey(submission.ID, "metadata.json")
	p.store.Put(metaKey, meta)

	artifacts := []ArtifactRef{{
		ID:         submission.ID + "-metadata",
		Kind:       ArtifactMetadata,
		StorageKey: metaKey,
		MimeType:   "application/json",
	}}
	for _, doc := range submission.Documents {
		kind := ArtifactConverted
		if doc.IsMain {
			kind = ArtifactMainPDF
		}
		key := storageKey(submission.ID, doc.ID+".pdf")
		p.store.Put(key, []byte(doc.Title))
		artifacts = append(artifacts, ArtifactRef{
			ID:         submission.ID + "-" + doc.ID,
			DocumentID: doc.ID,
			Kind:       kind,
			StorageKey: key,
			MimeType:   "application/pdf",
		})
	}

	loggingpkg.FromContext(ctx, nil).Debug("Submission preprocessed", loggingpkg.LogFields{
		"submission_id": submission.ID,
		"artifacts":     len(artifacts),
	})
	return PreprocessedSubmission{Submission: submission, Artifacts: artifacts}, nil
}

// LocalArchive is an in-memory archive. Archiving the same submission twice
// returns the first journal post, so redelivered entries do not create
// duplicates.
type LocalArchive struct {
	mu      sync.Mutex
	posts   map[string]ArchivedSubmission
	calls   int
	now     func() time.Time
	newID   func() string
	callers []string
}

func NewLocalArchive() *LocalArchive {
	return &LocalArchive{
		posts: make(map[string]ArchivedSubmission),
		now:   time.Now,
		newID: ids.CreateULID,
	}
}

func (a *LocalArchive) Archive(ctx context.Context, submission PreprocessedSubmission) (ArchivedSubmission, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls++
	a.callers = append(a.callers, envelope.CorrelationIDFromContext(ctx))

	id := submission.Submission.ID
	if existing, ok := a.posts[id]; ok {
		return existing, nil
	}
	archived := ArchivedSubmission{
		SubmissionID: id,
		Theme:        submission.Submission.Theme,
		ArchiveID:    a.newID(),
		Artifacts:    submission.Artifacts,
		ArchivedAt:   a.now().UTC(),
	}
	a.posts[id] = archived
	return archived, nil
}

// Lookup returns the journal post for a submission.
func (a *LocalArchive) Lookup(submissionID string) (ArchivedSubmission, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	post, ok := a.posts[submissionID]
	return post, ok
}

// Calls reports how often Archive was invoked, including repeats.
func (a *LocalArchive) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// CorrelationIDs lists the correlation id seen on every Archive call.
func (a *LocalArchive) CorrelationIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.callers...)
}

// LocalTaskCreator creates tasks for the configured themes. An empty theme set
// creates a task for every submission.
type LocalTaskCreator struct {
	mu     sync.Mutex
	themes map[string]struct{}
	tasks  map[string]string
}

func NewLocalTaskCreator(themes ...string) *LocalTaskCreator {
	set := make(map[string]struct{}, len(themes))
	for _, t := range themes {
		set[t] = struct{}{}
	}
	return &LocalTaskCreator{themes: set, tasks: make(map[string]string)}
}

func (c *LocalTaskCreator) CreateTask(_ context.Context, archived ArchivedSubmission) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.themes) > 0 {
		if _, ok := c.themes[archived.Theme]; !ok {
			return "", nil
		}
	}
	if task, ok := c.tasks[archived.ArchiveID]; ok {
		return task, nil
	}
	task := ids.CreateULID()
	c.tasks[archived.ArchiveID] = task
	return task, nil
}

// Tasks returns the number of tasks created.
func (c *LocalTaskCreator) Tasks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

// LocalCleaner deletes every artifact of an instruction from the store.
type LocalCleaner struct {
	store *LocalStore
}

func NewLocalCleaner(store *LocalStore) *LocalCleaner {
	return &LocalCleaner{store: store}
}

func (c *LocalCleaner) Cleanup(ctx context.Context, instruction CleanupInstruction) error {
	for _, artifact := range instruction.Artifacts {
		c.store.Delete(artifact.StorageKey)
	}
	loggingpkg.FromContext(ctx, nil).Debug("Transient storage removed", loggingpkg.LogFields{
		"submission_id": instruction.SubmissionID,
		"artifacts":     len(instruction.Artifacts),
	})
	return nil
}

// NewLocalCollaborators wires the local implementations around one store.
func NewLocalCollaborators(store *LocalStore) Collaborators {
	return Collaborators{
		Preprocessor: NewLocalPreprocessor(store),
		Archiver:     NewLocalArchive(),
		TaskCreator:  NewLocalTaskCreator(),
		Cleaner:      NewLocalCleaner(store),
	}
}

func storageKey(submissionID, name string) string {
	return submissionID + "/" + name
}

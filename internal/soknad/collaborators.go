package soknad

import "context"

// Preprocessor renders the main PDF, converts attachments and stores the
// results as artifacts.
type Preprocessor interface {
	Preprocess(ctx context.Context, submission Submission) (PreprocessedSubmission, error)
}

// Archiver files a preprocessed submission in the case-management archive.
// Redelivery means Archive may be called more than once for the same
// submission.
type Archiver interface {
	Archive(ctx context.Context, submission PreprocessedSubmission) (ArchivedSubmission, error)
}

// TaskCreator asks the task system for a follow-up task when the theme needs
// one. An empty task id means no task was created.
type TaskCreator interface {
	CreateTask(ctx context.Context, archived ArchivedSubmission) (string, error)
}

// Cleaner removes the transient storage used while processing a submission.
type Cleaner interface {
	Cleanup(ctx context.Context, instruction CleanupInstruction) error
}

// Collaborators bundles the external systems used by the stages. TaskCreator
// is optional.
type Collaborators struct {
	Preprocessor Preprocessor
	Archiver     Archiver
	TaskCreator  TaskCreator
	Cleaner      Cleaner
}

// PreprocessFunc adapts a function to Preprocessor.
type PreprocessFunc func(ctx context.Context, submission Submission) (PreprocessedSubmission, error)

func (f PreprocessFunc) Preprocess(ctx context.Context, submission Submission) (PreprocessedSubmission, error) {
	return f(ctx, submission)
}

// ArchiveFunc adapts a function to Archiver.
type ArchiveFunc func(ctx context.Context, submission PreprocessedSubmission) (ArchivedSubmission, error)

func (f ArchiveFunc) Archive(ctx context.Context, submission PreprocessedSubmission) (ArchivedSubmission, error) {
	return f(ctx, submission)
}

// CreateTaskFunc adapts a function to TaskCreator.
type CreateTaskFunc func(ctx context.Context, archived ArchivedSubmission) (string, error)

func (f CreateTaskFunc) CreateTask(ctx context.Context, archived ArchivedSubmission) (string, error) {
	return f(ctx, archived)
}

// CleanupFunc adapts a function to Cleaner.
type CleanupFunc func(ctx context.Context, instruction CleanupInstruction) error

func (f CleanupFunc) Cleanup(ctx context.Context, instruction CleanupInstruction) error {
	return f(ctx, instruction)
}

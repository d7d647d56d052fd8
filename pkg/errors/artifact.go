package errors

var (
	// ErrArtifactGone is returned when an artifact is expired or no longer exists at the source.
	ErrArtifactGone = NewWithCode(CodeNotFound, "artifact expired or not found")
	// ErrArtifactTooLarge is returned when an artifact stream exceeds the configured size ceiling.
	ErrArtifactTooLarge = NewWithCode(CodeArtifactTooLarge, "artifact exceeds size ceiling")
	// ErrUnsupportedArchive is returned when the archive format cannot be detected.
	ErrUnsupportedArchive = NewWithCode(CodeArtifactMalformed, "unsupported archive format")
	// ErrArchiveLimits is returned when an archive exceeds entry count or decompressed size limits.
	ErrArchiveLimits = NewWithCode(CodeArtifactMalformed, "archive exceeds extraction limits")
	// ErrNoArtifactsProcessed is returned when every candidate artifact of a run failed.
	ErrNoArtifactsProcessed = NewWithCode(CodeNoArtifacts, "no artifacts could be processed")
)

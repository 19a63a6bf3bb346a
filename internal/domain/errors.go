package domain

import "errors"

var (
	// ErrTemplateFetch marks a failed template load; fatal to the request,
	// never retried internally.
	ErrTemplateFetch = errors.New("template fetch failed")
	// ErrMissingConditioningImage marks an img2img request submitted without
	// an uploaded image reference.
	ErrMissingConditioningImage = errors.New("missing conditioning image")
	// ErrUpload marks a failed conditioning-image upload.
	ErrUpload = errors.New("image upload failed")
	// ErrSubmission marks a rejected or unreachable job submission.
	ErrSubmission = errors.New("job submission failed")
	// ErrArtifactVerification marks an individual output that never became
	// retrievable. Non-fatal to the overall job.
	ErrArtifactVerification = errors.New("artifact verification failed")
	// ErrQueueDesync marks a completion event that arrived with nothing
	// queued. Logged and ignored, never a crash.
	ErrQueueDesync = errors.New("completion event with empty queue")
	// ErrBusy is returned when a generation is requested while another is
	// still outstanding.
	ErrBusy = errors.New("a generation is already in flight")
	// ErrWatchdogTimeout marks a request whose completion never arrived
	// within the configured ceiling. Its outcome is unknown.
	ErrWatchdogTimeout = errors.New("generation timed out with unknown outcome")
	// ErrUnknownNode marks a template that is missing a node id the mutator
	// is configured to write. This is a configuration error, not a skip.
	ErrUnknownNode = errors.New("template is missing a required node")
)

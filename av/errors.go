package av

import "errors"

// Sentinel errors for engine operations.
// These errors enable reliable error classification using errors.Is().

// Initialization errors. Init wraps the collaborator's own error with one
// of these so callers can tell which step failed.
var (
	// ErrInvalidParams indicates VoiceParams failed validation.
	ErrInvalidParams = errors.New("invalid voice parameters")

	// ErrCaptureStart indicates the device refused to start capture.
	ErrCaptureStart = errors.New("capture start failed")

	// ErrPlaybackStart indicates the device refused to start playback.
	ErrPlaybackStart = errors.New("playback start failed")

	// ErrEncoderInit indicates the codec encoder could not be initialized.
	ErrEncoderInit = errors.New("encoder initialization failed")

	// ErrDecoderInit indicates the codec decoder could not be initialized.
	ErrDecoderInit = errors.New("decoder initialization failed")

	// ErrSuppressorInit indicates the noise suppressor could not be initialized.
	ErrSuppressorInit = errors.New("suppressor initialization failed")
)

// Lifecycle errors.
var (
	// ErrAlreadyInitialized indicates Init was called on an engine that
	// is ready or shut down.
	ErrAlreadyInitialized = errors.New("engine already initialized")

	// ErrMissingDependency indicates a required collaborator is nil.
	ErrMissingDependency = errors.New("missing engine dependency")
)

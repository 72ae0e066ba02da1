package renderer

import "errors"

// Configuration errors are detected at allocation or pipeline build time.
var (
	// ErrUnsupportedFormat is returned when no candidate format supports the requested usage.
	ErrUnsupportedFormat = errors.New("renderer: unsupported format")

	// ErrZeroExtent is returned when an image or surface would have a zero dimension.
	ErrZeroExtent = errors.New("renderer: zero extent")

	// ErrMissingFeature is returned when a required device feature is unavailable.
	ErrMissingFeature = errors.New("renderer: missing device feature")

	// ErrMissingKernel is returned when the software device is asked to run a pipeline
	// without a Go kernel.
	ErrMissingKernel = errors.New("renderer: pipeline has no software kernel")
)

// Runtime errors are fatal to the frame that observes them.
var (
	// ErrOutOfMemory is returned when an allocation exceeds the device memory budget.
	ErrOutOfMemory = errors.New("renderer: out of device memory")

	// ErrDeviceLost is returned once the device stops making progress. Every later
	// submission returns it as well.
	ErrDeviceLost = errors.New("renderer: device lost")

	// ErrSubmit is returned when a submission is rejected.
	ErrSubmit = errors.New("renderer: submission failed")

	// ErrInvalidLayout is returned when a command uses an image in the wrong layout or a
	// transition names the wrong old layout.
	ErrInvalidLayout = errors.New("renderer: invalid image layout")

	// ErrInvalidUsage is returned when an image is used in a way its usage flags do not allow.
	ErrInvalidUsage = errors.New("renderer: image usage not allowed")

	// ErrOwnership is returned when an exclusive image is used by a queue family that
	// has not acquired it.
	ErrOwnership = errors.New("renderer: queue family ownership violation")

	// ErrReleased is returned when a released handle is used.
	ErrReleased = errors.New("renderer: use of released handle")
)

package beacon

import (
	"context"

	"github.com/randalmurphal/beacon/pkg/beacon/event"
)

// Recorder is an external session recorder. The client only starts,
// stops, pauses and resumes it.
type Recorder interface {
	Start(ctx context.Context, sessionID string) error
	Stop() error
	Pause()
	Resume()
}

// Detection is a subscription detector's best guess about the user's
// payment provider.
type Detection struct {
	// Provider names the detected provider. Empty means nothing was found.
	Provider string

	// Confidence is in [0,1].
	Confidence float64

	// Subscription holds partial subscription properties such as plan or
	// status. They are merged into identify traits.
	Subscription event.Properties
}

// Detector inspects the host environment for subscription information.
type Detector interface {
	Detect(ctx context.Context) (Detection, error)
}

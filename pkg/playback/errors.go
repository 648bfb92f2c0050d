package playback

import "errors"

var (
	// ErrSegmentMissing is returned when the expected segment never became
	// ready within the retry budget. The rest of the response is dropped.
	ErrSegmentMissing = errors.New("playback: expected segment never arrived")

	// ErrClosed is returned by Add once Run has finished.
	ErrClosed = errors.New("playback: scheduler closed")

	// ErrNoPlayer is returned when a scheduler is built without a player.
	ErrNoPlayer = errors.New("playback: player is required")
)

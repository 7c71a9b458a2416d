package session

import (
	"context"
	"errors"
	"fmt"

	"castctl/internal/trackid"
)

var (
	// ErrUnknownDevice is returned when a device id is not known to the controller.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrUnknownCommand is returned by ParseTransport for unrecognised tokens.
	ErrUnknownCommand = errors.New("unknown command")
)

// Device describes a controllable playback target.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"`
}

// Queue is a snapshot of a device's track queue.
type Queue struct {
	Tracks   []trackid.ID
	Position int
}

// Current returns the track at Position. It reports false when the queue is
// empty or Position is out of range.
func (q Queue) Current() (trackid.ID, bool) {
	if q.Position < 0 || q.Position >= len(q.Tracks) {
		return trackid.ID{}, false
	}
	return q.Tracks[q.Position], true
}

// Kind enumerates the commands a controller accepts.
type Kind int

const (
	KindPause Kind = iota + 1
	KindPlay
	KindNext
	KindPrevious
	KindReplace
	KindAppend
)

func (k Kind) String() string {
	switch k {
	case KindPause:
		return "pause"
	case KindPlay:
		return "play"
	case KindNext:
		return "next"
	case KindPrevious:
		return "previous"
	case KindReplace:
		return "replace"
	case KindAppend:
		return "append"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseTransport maps a transport token from a URL path to its command kind.
// Only pause, play, next and prev are accepted.
func ParseTransport(token string) (Kind, error) {
	switch token {
	case "pause":
		return KindPause, nil
	case "play":
		return KindPlay, nil
	case "next":
		return KindNext, nil
	case "prev":
		return KindPrevious, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, token)
	}
}

// Command is a single instruction addressed to one device. Tracks is only
// meaningful for KindReplace and KindAppend.
type Command struct {
	Kind   Kind
	Tracks []trackid.ID
}

// Transport builds a command without a track list.
func Transport(kind Kind) Command {
	return Command{Kind: kind}
}

// Replace builds a command replacing the whole queue with tracks.
func Replace(tracks []trackid.ID) Command {
	return Command{Kind: KindReplace, Tracks: tracks}
}

// Append builds a command appending tracks to the queue.
func Append(tracks []trackid.ID) Command {
	return Command{Kind: KindAppend, Tracks: tracks}
}

// Controller is the shared handle onto the live session controller.
type Controller interface {
	// Devices lists the known devices. An empty controller yields an empty slice.
	Devices(ctx context.Context) ([]Device, error)
	// Queue returns the current queue of a device or ErrUnknownDevice.
	Queue(ctx context.Context, deviceID string) (Queue, error)
	// Submit hands a command to the controller for deviceID.
	Submit(ctx context.Context, deviceID string, cmd Command) error
}

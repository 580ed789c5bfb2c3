package domain

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

type TrackSource string

const (
	SourceMicrophone TrackSource = "microphone"
	SourceCamera     TrackSource = "camera"
	SourceScreen     TrackSource = "screen"
	SourceRemote     TrackSource = "remote"
)

// TrackRef describes one track of a stream. Handle is the underlying media
// object for renderers and must be treated as read-only.
type TrackRef struct {
	ID      string      `json:"id"`
	Kind    MediaKind   `json:"kind"`
	Source  TrackSource `json:"source"`
	Enabled bool        `json:"enabled"`
	Handle  any         `json:"-"`
}

// Stream is an immutable snapshot. Owners publish a new value with a higher
// Revision instead of mutating a published one.
type Stream struct {
	ID       string        `json:"id"`
	Owner    ParticipantID `json:"owner"`
	Revision uint64        `json:"revision"`
	Tracks   []TrackRef    `json:"tracks"`
}

func (s *Stream) Track(kind MediaKind) (TrackRef, bool) {
	if s == nil {
		return TrackRef{}, false
	}
	for _, t := range s.Tracks {
		if t.Kind == kind {
			return t, true
		}
	}
	return TrackRef{}, false
}

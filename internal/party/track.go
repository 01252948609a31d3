// Package party holds the domain state of a listening party: the track and
// playback snapshot reported by the host, the session with its relay
// handles and joined listeners, and the process-wide session store.
package party

// Track is the host-reported descriptor of the catalogue track being
// played. The session layer never resolves it against the catalogue; it is
// relayed to listeners verbatim.
type Track struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Artist      string  `json:"artist"`
	Release     string  `json:"release,omitempty"`
	CoverURL    string  `json:"coverUrl,omitempty"`
	Duration    float64 `json:"duration"` // seconds
	TrackNumber int     `json:"trackNumber,omitempty"`
}

// PlaybackState is the playback snapshot shared with every listener.
// CurrentTime and Duration are a best-effort, host-reported position, not
// an authoritative clock.
type PlaybackState struct {
	CurrentTrack *Track  `json:"currentTrack"`
	IsPlaying    bool    `json:"isPlaying"`
	CurrentTime  float64 `json:"currentTime"`
	Duration     float64 `json:"duration"`
}

// Status is the observer view served over HTTP for pages that want to know
// whether a party is running before opening a signaling connection.
type Status struct {
	Active    bool   `json:"active"`
	SessionID string `json:"sessionId,omitempty"`
	PlaybackState
	ListenerCount int `json:"listenerCount"`
}

package schema

import "time"

// StreamState enumerates the connection state machine states shared by the
// price and user-data streams.
type StreamState string

const (
	// StreamStopped is the initial and terminal state.
	StreamStopped StreamState = "stopped"
	// StreamCreatingListenKey covers the user-data listen key request.
	StreamCreatingListenKey StreamState = "creating_listen_key"
	// StreamConnecting covers the websocket dial.
	StreamConnecting StreamState = "connecting"
	// StreamConnected marks an established socket.
	StreamConnected StreamState = "connected"
	// StreamSubscribing covers an in-flight subscribe control message.
	StreamSubscribing StreamState = "subscribing"
	// StreamSubscribed marks a completed subscription.
	StreamSubscribed StreamState = "subscribed"
	// StreamReceiving marks an actively flowing session.
	StreamReceiving StreamState = "receiving"
	// StreamKeepAlive covers a listen key renewal call.
	StreamKeepAlive StreamState = "keepalive"
	// StreamStale marks a live socket with no recent messages.
	StreamStale StreamState = "stale"
	// StreamReconnecting covers the backoff delay before a retry.
	StreamReconnecting StreamState = "reconnecting"
	// StreamError marks a transient failure about to loop back.
	StreamError StreamState = "error"
)

// StreamStatus is an immutable status snapshot, rebuilt on every transition.
type StreamStatus struct {
	State         StreamState
	Connected     bool
	Receiving     bool
	LastMessageAt time.Time
	Reconnects    int
	Endpoint      string
	StreamName    string
	LastErr       string
}

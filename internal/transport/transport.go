// Package transport provides the persistent bidirectional message channel
// between a voice session and the realtime speech service.
//
// A [Conn] carries JSON text messages. It is opened once per session by a
// [Dialer], is never retried or reopened, and reports abnormal closure as a
// transport error. Received messages are delivered one at a time, in receipt
// order, to the [Handlers] registered with [Conn.Listen].
package transport

import (
	"context"
	"net/url"
)

// Credential authenticates the channel. Token is a short-lived key minted for
// this session only.
type Credential struct {
	Token string
}

// Handlers receive channel events. All three are invoked from the single
// receive goroutine and never concurrently. After OnError or OnClose no
// further handler is invoked.
type Handlers struct {
	// OnMessage receives the payload of each text message.
	OnMessage func(data []byte)

	// OnError reports a failure of the underlying channel.
	OnError func(err error)

	// OnClose reports that the remote side closed the channel.
	OnClose func()
}

// Conn is an open message channel.
//
// Implementations must be safe for concurrent use.
type Conn interface {
	// Send JSON-encodes msg and writes it as one text message. When the
	// channel is not open Send does nothing and returns nil.
	Send(ctx context.Context, msg any) error

	// Listen registers h and starts delivering messages. Only the first call
	// has an effect.
	Listen(h Handlers)

	// Open reports whether the channel can currently carry messages.
	Open() bool

	// Close closes the channel. No handler is invoked after a local Close.
	// Calling Close more than once is safe.
	Close() error
}

// Dialer opens channels.
type Dialer interface {
	// Dial connects to endpoint authenticated with cred. Failures are
	// reported as connect errors.
	Dial(ctx context.Context, endpoint string, cred Credential) (Conn, error)
}

// Endpoint returns the realtime URL for model, e.g.
// "wss://api.openai.com/v1/realtime?model=gpt-4o-mini-realtime-preview".
// Existing query parameters on base are kept.
func Endpoint(base, model string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if model != "" {
		q := u.Query()
		q.Set("model", model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

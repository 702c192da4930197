package llm

import "context"

// Client is implemented by every provider adapter.
type Client interface {
	// Synchronous performs one request and returns the complete response.
	Synchronous(ctx context.Context, req *Request) (*Response, error)

	// Stream opens a streaming request. The caller drains the returned
	// Stream with Next and must Close it.
	Stream(ctx context.Context, req *Request) (Stream, error)
}

// Stream is a pull-based sequence of provider events.
type Stream interface {
	// Next advances to the next event and reports whether one is available.
	Next() bool

	// Event returns the event Next advanced to.
	Event() *StreamEvent

	// Err returns the error that ended the stream, if any.
	Err() error

	// Close releases the underlying connection. It is safe to call twice.
	Close() error
}

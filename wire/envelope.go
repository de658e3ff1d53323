// Package wire defines the message envelope exchanged between a transport
// Client and Host, the codecs that put envelopes on a byte stream, and the
// per-method argument payloads.
//
// Every message is an [Envelope]. A Call opens an exchange; the Host
// answers with zero or more Progress envelopes and exactly one Result or
// Error. The Client may send Abort for an exchange it no longer wants.
package wire

import "github.com/embedpdf/pdfdispatch"

// Kind identifies the envelope category.
type Kind string

const (
	KindCall     Kind = "call"
	KindResult   Kind = "result"
	KindError    Kind = "error"
	KindProgress Kind = "progress"
	KindAbort    Kind = "abort"
)

// Terminal reports whether k ends an exchange.
func (k Kind) Terminal() bool { return k == KindResult || k == KindError }

// Envelope is the unit of transport traffic.
type Envelope struct {
	// ID correlates every envelope of one exchange. Assigned by the Client,
	// unique and increasing per Client.
	ID uint64 `json:"id" msgpack:"id"`

	Kind Kind `json:"kind" msgpack:"kind"`

	// Method names the executor operation; set on Call envelopes.
	Method string `json:"method,omitempty" msgpack:"method,omitempty"`

	// Body is the method args (Call), the value (Result), or the progress
	// payload (Progress). In-process it is the Go value itself; after
	// decoding it is a Raw. Use Bind to read it.
	Body any `json:"body,omitempty" msgpack:"body,omitempty"`

	// Error is set on Error envelopes.
	Error *embedpdf.Reason `json:"error,omitempty" msgpack:"error,omitempty"`
}

// NewCall creates a call envelope.
func NewCall(id uint64, method string, args any) *Envelope {
	return &Envelope{ID: id, Kind: KindCall, Method: method, Body: args}
}

// NewResult creates a result envelope.
func NewResult(id uint64, v any) *Envelope {
	return &Envelope{ID: id, Kind: KindResult, Body: v}
}

// NewError creates an error envelope. Any error is carried as a Reason.
func NewError(id uint64, err error) *Envelope {
	return &Envelope{ID: id, Kind: KindError, Error: embedpdf.AsReason(err)}
}

// NewProgress creates a progress envelope.
func NewProgress(id uint64, p any) *Envelope {
	return &Envelope{ID: id, Kind: KindProgress, Body: p}
}

// NewAbort creates an abort envelope.
func NewAbort(id uint64) *Envelope {
	return &Envelope{ID: id, Kind: KindAbort}
}

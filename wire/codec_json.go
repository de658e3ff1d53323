package wire

import (
	"encoding/json"

	"github.com/embedpdf/pdfdispatch"
)

// JSONCodec encodes envelopes as JSON. Byte slices travel as base64.
type JSONCodec struct{}

type jsonEnvelope struct {
	ID     uint64           `json:"id"`
	Kind   Kind             `json:"kind"`
	Method string           `json:"method,omitempty"`
	Body   json.RawMessage  `json:"body,omitempty"`
	Error  *embedpdf.Reason `json:"error,omitempty"`
}

type jsonRaw json.RawMessage

func (r jsonRaw) Unmarshal(out any) error { return json.Unmarshal(r, out) }

func (JSONCodec) Encode(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func (JSONCodec) Decode(data []byte) (*Envelope, error) {
	var je jsonEnvelope
	if err := json.Unmarshal(data, &je); err != nil {
		return nil, err
	}
	env := &Envelope{ID: je.ID, Kind: je.Kind, Method: je.Method, Error: je.Error}
	if len(je.Body) > 0 && string(je.Body) != "null" {
		env.Body = jsonRaw(je.Body)
	}
	return env, nil
}

func (JSONCodec) Name() string { return CodecNameJSON }

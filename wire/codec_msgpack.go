package wire

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/embedpdf/pdfdispatch"
)

// MsgpackCodec encodes envelopes as MessagePack. Byte slices travel as
// bin, so rendered bitmaps cost no base64 expansion.
type MsgpackCodec struct{}

type msgpackEnvelope struct {
	ID     uint64             `msgpack:"id"`
	Kind   Kind               `msgpack:"kind"`
	Method string             `msgpack:"method,omitempty"`
	Body   msgpack.RawMessage `msgpack:"body,omitempty"`
	Error  *embedpdf.Reason   `msgpack:"error,omitempty"`
}

type msgpackRaw msgpack.RawMessage

func (r msgpackRaw) Unmarshal(out any) error { return msgpack.Unmarshal(r, out) }

func (MsgpackCodec) Encode(env *Envelope) ([]byte, error) {
	return msgpack.Marshal(env)
}

func (MsgpackCodec) Decode(data []byte) (*Envelope, error) {
	var me msgpackEnvelope
	if err := msgpack.Unmarshal(data, &me); err != nil {
		return nil, err
	}
	env := &Envelope{ID: me.ID, Kind: me.Kind, Method: me.Method, Error: me.Error}
	// 0xc0 is msgpack nil.
	if len(me.Body) > 0 && !(len(me.Body) == 1 && me.Body[0] == 0xc0) {
		env.Body = msgpackRaw(me.Body)
	}
	return env, nil
}

func (MsgpackCodec) Name() string { return CodecNameMsgpack }

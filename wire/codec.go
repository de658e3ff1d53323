package wire

// Codec defines the serialization contract for envelopes on a byte stream.
type Codec interface {
	// Encode serializes an envelope to bytes.
	Encode(env *Envelope) ([]byte, error)

	// Decode deserializes bytes into an envelope. The Body of the result,
	// if present, is a Raw.
	Decode(data []byte) (*Envelope, error)

	// Name returns the codec identifier ("json" or "msgpack").
	Name() string
}

// Codec names for format negotiation.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// GetCodec returns a codec by name. Unknown names fall back to JSON.
func GetCodec(name string) Codec {
	switch name {
	case CodecNameMsgpack:
		return MsgpackCodec{}
	default:
		return JSONCodec{}
	}
}

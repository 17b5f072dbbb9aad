package server

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype of the Transcriber service.
const CodecName = "msgpack"

func init() {
	encoding.RegisterCodec(codec{})
}

// codec encodes Transcriber messages with msgpack.
type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("server: msgpack marshal %T: %w", v, err)
	}
	return b, nil
}

func (codec) Unmarshal(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("server: msgpack unmarshal %T: %w", v, err)
	}
	return nil
}

func (codec) Name() string { return CodecName }

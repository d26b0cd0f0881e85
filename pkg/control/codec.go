// Package control carries the core contract between processes: a gRPC
// transport with a msgpack wire codec, a hand-assembled service descriptor,
// a server handler wrapping a domain.Core and a client gateway implementing
// domain.Core over a client connection.
package control

import (
	"github.com/vmihailenco/msgpack/v5"

	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype of the msgpack codec.
const codecName = "msgpack"

func init() {
	encoding.RegisterCodec(msgpackCodec{})
}

// msgpackCodec marshals wire messages with msgpack. The service descriptor
// is written by hand rather than generated, so the message types are plain
// structs and protobuf never enters the picture.
type msgpackCodec struct{}

func (msgpackCodec) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

func (msgpackCodec) Name() string {
	return codecName
}

package client

import (
	jsoniter "github.com/json-iterator/go"
	"google.golang.org/grpc/encoding"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Codec marshals the repositories service messages as JSON. It is a local
// contract and does not speak the protobuf wire format.
type Codec struct{}

var _ encoding.Codec = Codec{}

func (Codec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (Codec) Name() string {
	return "json"
}

package serializer

import (
	"fmt"
	"strings"
)

// IBodySerializer is the interface for all message body serializers.
// The concrete type of a message is carried next to the body (see common.Packet),
// so a serializer only encodes the fields of one message.
type IBodySerializer interface {
	// Name returns the name of the format (e.g. "cbor")
	Name() string
	// Marshal serializes a message into a byte array
	Marshal(msg any) ([]byte, error)
	// Unmarshal deserializes a byte array into the message msg points to
	Unmarshal(b []byte, msg any) error
}

// bodySerializers is a map of serializer name to factory function
var bodySerializers = map[string]func() IBodySerializer{
	"cbor": NewCBORSerializer,
	"json": NewJSONSerializer,
	"gob":  NewGOBSerializer,
}

// ByName returns the body serializer with the given name
func ByName(name string) (IBodySerializer, error) {
	factory, ok := bodySerializers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown serializer %q. must be one of cbor, json, gob", name)
	}
	return factory(), nil
}

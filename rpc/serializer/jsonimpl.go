package serializer

import (
	"encoding/json"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer() IBodySerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IBodySerializer interface using json encoding
type jsonSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IBodySerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Name() string {
	return "json"
}

func (j jsonSerializerImpl) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (j jsonSerializerImpl) Unmarshal(b []byte, msg any) error {
	return json.Unmarshal(b, msg)
}

package serializer

import (
	"github.com/fxamacker/cbor/v2"
)

// NewCBORSerializer creates a new serializer using canonical CBOR encoding.
// This is the default format of the cluster.
func NewCBORSerializer() IBodySerializer {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err) // static options, cannot fail
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return &cborSerializerImpl{enc: enc, dec: dec}
}

// cborSerializerImpl implements the IBodySerializer interface using cbor encoding
type cborSerializerImpl struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IBodySerializer)
// --------------------------------------------------------------------------

func (c *cborSerializerImpl) Name() string {
	return "cbor"
}

func (c *cborSerializerImpl) Marshal(msg any) ([]byte, error) {
	return c.enc.Marshal(msg)
}

func (c *cborSerializerImpl) Unmarshal(b []byte, msg any) error {
	return c.dec.Unmarshal(b, msg)
}

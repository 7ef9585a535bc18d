package client

import (
	"github.com/ValentinKolb/dRing/lib/ringmap"
	"github.com/ValentinKolb/dRing/lib/store"
	"github.com/ValentinKolb/dRing/rpc/operation"
)

var _ store.IStore = (*Client)(nil)

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (c *Client) Set(key string, value []byte) error {
	ack, err := invoke[*operation.Ack](c, key, &ringmap.PutRequest{Key: key, Value: value})
	if err != nil {
		return err
	}
	return ackError(ack)
}

func (c *Client) Delete(key string) error {
	ack, err := invoke[*operation.Ack](c, key, &ringmap.DeleteRequest{Key: key})
	if err != nil {
		return err
	}
	return ackError(ack)
}

func (c *Client) Get(key string) ([]byte, bool, error) {
	resp, err := invoke[*ringmap.GetResponse](c, key, &ringmap.GetRequest{Key: key})
	if err != nil {
		return nil, false, err
	}
	if resp.Err != "" {
		return nil, false, store.NewError(store.RetCInternalError, resp.Err)
	}
	return resp.Value, resp.Found, nil
}

func (c *Client) Has(key string) (bool, error) {
	resp, err := invoke[*ringmap.GetResponse](c, key, &ringmap.HasRequest{Key: key})
	if err != nil {
		return false, err
	}
	if resp.Err != "" {
		return false, store.NewError(store.RetCInternalError, resp.Err)
	}
	return resp.Found, nil
}

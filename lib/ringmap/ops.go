package ringmap

import (
	"github.com/ValentinKolb/dRing/lib/ring"
	"github.com/ValentinKolb/dRing/rpc/operation"
)

// Message kinds of the ringmap service
const (
	KindPut operation.Kind = 0x0200 + iota
	KindGet
	KindHas
	KindDelete
	KindChangeRing
	KindGetResponse
	KindEntriesResponse
	KindHandoff
)

// Register adds all ringmap messages to the registry
func Register(r *operation.Registry) {
	r.MustRegister(
		func() operation.Message { return &PutRequest{} },
		func() operation.Message { return &GetRequest{} },
		func() operation.Message { return &HasRequest{} },
		func() operation.Message { return &DeleteRequest{} },
		func() operation.Message { return &ChangeRingRequest{} },
		func() operation.Message { return &GetResponse{} },
		func() operation.Message { return &EntriesResponse{} },
		func() operation.Message { return &HandoffRequest{} },
	)
}

// --------------------------------------------------------------------------
// Key Requests
// --------------------------------------------------------------------------

// PutRequest stores a key on the receiving node, replies with an Ack
type PutRequest struct {
	Key   string `cbor:"1,keyasint" json:"key"`
	Value []byte `cbor:"2,keyasint" json:"value"`
}

func (r *PutRequest) Kind() operation.Kind         { return KindPut }
func (r *PutRequest) Service() operation.ServiceID { return operation.ServiceRingMap }

func (r *PutRequest) Serve(svc any, ctx operation.ReplyContext) error {
	rm, err := operation.ServiceAs[*RingMap](svc)
	if err != nil {
		return err
	}
	return ctx.Reply(operation.NewAck(rm.Set(r.Key, r.Value)))
}

// GetRequest reads a key, replies with a GetResponse
type GetRequest struct {
	Key string `cbor:"1,keyasint" json:"key"`
}

func (r *GetRequest) Kind() operation.Kind         { return KindGet }
func (r *GetRequest) Service() operation.ServiceID { return operation.ServiceRingMap }

func (r *GetRequest) Serve(svc any, ctx operation.ReplyContext) error {
	rm, err := operation.ServiceAs[*RingMap](svc)
	if err != nil {
		return err
	}
	value, found, err := rm.Get(r.Key)
	if err != nil {
		return ctx.Reply(&GetResponse{Err: err.Error()})
	}
	return ctx.Reply(&GetResponse{Value: value, Found: found})
}

// HasRequest checks for a key, replies with a GetResponse without value
type HasRequest struct {
	Key string `cbor:"1,keyasint" json:"key"`
}

func (r *HasRequest) Kind() operation.Kind         { return KindHas }
func (r *HasRequest) Service() operation.ServiceID { return operation.ServiceRingMap }

func (r *HasRequest) Serve(svc any, ctx operation.ReplyContext) error {
	rm, err := operation.ServiceAs[*RingMap](svc)
	if err != nil {
		return err
	}
	found, err := rm.Has(r.Key)
	if err != nil {
		return ctx.Reply(&GetResponse{Err: err.Error()})
	}
	return ctx.Reply(&GetResponse{Found: found})
}

// GetResponse is the reply to GetRequest and HasRequest
type GetResponse struct {
	Value []byte `cbor:"1,keyasint,omitempty" json:"value,omitempty"`
	Found bool   `cbor:"2,keyasint,omitempty" json:"found,omitempty"`
	Err   string `cbor:"3,keyasint,omitempty" json:"err,omitempty"`
}

func (r *GetResponse) Kind() operation.Kind         { return KindGetResponse }
func (r *GetResponse) Service() operation.ServiceID { return operation.ServiceNone }

// DeleteRequest removes a key, replies with an Ack
type DeleteRequest struct {
	Key string `cbor:"1,keyasint" json:"key"`
}

func (r *DeleteRequest) Kind() operation.Kind         { return KindDelete }
func (r *DeleteRequest) Service() operation.ServiceID { return operation.ServiceRingMap }

func (r *DeleteRequest) Serve(svc any, ctx operation.ReplyContext) error {
	rm, err := operation.ServiceAs[*RingMap](svc)
	if err != nil {
		return err
	}
	return ctx.Reply(operation.NewAck(rm.Delete(r.Key)))
}

// --------------------------------------------------------------------------
// Rebalance
// --------------------------------------------------------------------------

// ChangeRingRequest pulls every entry in [Start, End) from the receiving node.
// The entries are removed from the receiver and returned in an EntriesResponse.
type ChangeRingRequest struct {
	Start ring.Token `cbor:"1,keyasint" json:"start"`
	End   ring.Token `cbor:"2,keyasint" json:"end"`
	// CallerCommitIndex is the commit index of the ring the caller computed the
	// range from. It is only logged.
	CallerCommitIndex uint64 `cbor:"3,keyasint,omitempty" json:"caller_commit_index,omitempty"`
}

func (r *ChangeRingRequest) Kind() operation.Kind         { return KindChangeRing }
func (r *ChangeRingRequest) Service() operation.ServiceID { return operation.ServiceRingMap }

func (r *ChangeRingRequest) Serve(svc any, ctx operation.ReplyContext) error {
	rm, err := operation.ServiceAs[*RingMap](svc)
	if err != nil {
		return err
	}
	entries := rm.ChangeRing(r.Start, r.End)
	if sender, ok := ctx.Sender(); ok {
		Logger.Infof("handing %d entries of %v to %s (caller commit index %d)",
			len(entries), ring.TokenRange{Start: r.Start, End: r.End}, sender, r.CallerCommitIndex)
	}
	return ctx.Reply(&EntriesResponse{Entries: entries})
}

// EntriesResponse carries entries moved out of a node
type EntriesResponse struct {
	Entries Entries `cbor:"1,keyasint" json:"entries"`
}

func (r *EntriesResponse) Kind() operation.Kind         { return KindEntriesResponse }
func (r *EntriesResponse) Service() operation.ServiceID { return operation.ServiceNone }

// HandoffRequest pushes entries to their new owner, replies with an Ack.
// The receiver keeps its own value for keys it already holds.
type HandoffRequest struct {
	Entries           Entries `cbor:"1,keyasint" json:"entries"`
	CallerCommitIndex uint64  `cbor:"2,keyasint,omitempty" json:"caller_commit_index,omitempty"`
}

func (r *HandoffRequest) Kind() operation.Kind         { return KindHandoff }
func (r *HandoffRequest) Service() operation.ServiceID { return operation.ServiceRingMap }

func (r *HandoffRequest) Serve(svc any, ctx operation.ReplyContext) error {
	rm, err := operation.ServiceAs[*RingMap](svc)
	if err != nil {
		return err
	}
	rm.Merge(r.Entries)
	if sender, ok := ctx.Sender(); ok {
		Logger.Infof("took over %d entries from %s (caller commit index %d)", len(r.Entries), sender, r.CallerCommitIndex)
	}
	return ctx.Reply(operation.NewAck(nil))
}

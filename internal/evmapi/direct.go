package evmapi

import (
	"fmt"

	"github.com/inkvm/inkvm/types"
)

// PendingRequest records the one host call currently in flight on a
// direct client. Exactly one request may be outstanding at a time;
// a second concurrent request or a response for a stale id means the
// dispatcher and the protocol have diverged.
type PendingRequest struct {
	Id      uint32
	Kind    RequestKind
	Payload [][]byte
}

// DirectClient realizes types.EvmApi for the replay engine: requests
// are encoded, dispatched in the same call stack, and decoded, with
// no threads involved.
type DirectClient struct {
	client
	api     types.EvmApi
	nextId  uint32
	pending *PendingRequest
	last    PendingRequest
}

// NewDirect wraps the real api in a same-stack client.
func NewDirect(api types.EvmApi) *DirectClient {
	c := &DirectClient{api: api}
	c.client = client{roundTrip: c.roundTrip}
	return c
}

// LastRequest returns the most recently issued request, for
// diagnostics and tests.
func (c *DirectClient) LastRequest() (PendingRequest, bool) {
	if c.nextId == 0 {
		return PendingRequest{}, false
	}
	return c.last, true
}

func (c *DirectClient) roundTrip(kind RequestKind, args []Value) []Value {
	if c.pending != nil {
		panic(types.ProtocolDesyncError{
			Reason: fmt.Sprintf("%v issued while request %d (%v) is outstanding", kind, c.pending.Id, c.pending.Kind),
		})
	}
	c.nextId++
	req := &PendingRequest{Id: c.nextId, Kind: kind, Payload: EncodeValues(args)}
	c.pending = req
	c.last = *req

	frames, err := dispatch(c.api, kind, req.Payload)
	if err != nil {
		panic(err)
	}
	if c.pending != req {
		panic(types.ProtocolDesyncError{
			Reason: fmt.Sprintf("response does not match request %d", req.Id),
		})
	}
	c.pending = nil

	rets, err := DecodeValues(frames)
	if err != nil {
		panic(err)
	}
	return rets
}

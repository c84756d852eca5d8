package evmapi

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/inkvm/inkvm/types"
)

// DefaultRelayTimeout bounds how long the owning goroutine waits for
// the program goroutine between messages.
const DefaultRelayTimeout = 15 * time.Second

// MsgKind discriminates relay messages.
type MsgKind uint8

const (
	// MsgCall asks the owner to answer a host call.
	MsgCall MsgKind = iota
	// MsgPanic reports that the program goroutine died; the text is
	// the recovered panic value.
	MsgPanic
	// MsgDone reports that the program goroutine finished and the
	// relay can wind down.
	MsgDone
)

// Msg is one message from the program goroutine to the owner. Only
// copied byte payloads cross the boundary; the two goroutines share
// no mutable state.
type Msg struct {
	Kind     MsgKind
	Req      RequestKind
	Args     [][]byte
	Respond  chan [][]byte
	PanicMsg string
}

// RelayClient realizes types.EvmApi for the native engine. The
// program runs on its own goroutine; every host call is serialized,
// sent over the rendezvous channel, and blocks until the owner
// answers. The unbuffered channels enforce strict request/response
// alternation: the program cannot issue a second request before the
// first is answered.
type RelayClient struct {
	client
	msgs chan<- Msg
}

// NewRelay returns a client sending on msgs, which must be
// unbuffered.
func NewRelay(msgs chan<- Msg) *RelayClient {
	c := &RelayClient{msgs: msgs}
	c.client = client{roundTrip: c.roundTrip}
	return c
}

func (c *RelayClient) roundTrip(kind RequestKind, args []Value) []Value {
	respond := make(chan [][]byte)
	c.msgs <- Msg{Kind: MsgCall, Req: kind, Args: EncodeValues(args), Respond: respond}
	frames := <-respond

	rets, err := DecodeValues(frames)
	if err != nil {
		panic(err)
	}
	return rets
}

// Finish reports the program goroutine's exit to the owner: Done on
// clean return, Panic with the recovered value otherwise. Meant to
// run deferred around the entrypoint invocation.
func (c *RelayClient) Finish(recovered any) {
	if recovered != nil {
		c.msgs <- Msg{Kind: MsgPanic, PanicMsg: fmt.Sprint(recovered)}
		return
	}
	c.msgs <- Msg{Kind: MsgDone}
}

// Serve answers relay messages against the real api until the
// program reports Done, dies, or the timeout lapses. The timeout is
// fatal only to this invocation: Serve returns and the program
// goroutine is abandoned to block forever, a leak bounded by process
// lifetime. Dispatch failures (protocol desyncs) are returned rather
// than answered, likewise abandoning the program goroutine.
func Serve(api types.EvmApi, msgs <-chan Msg, timeout time.Duration, logger log.Logger) error {
	for {
		select {
		case msg := <-msgs:
			switch msg.Kind {
			case MsgCall:
				frames, err := dispatch(api, msg.Req, msg.Args)
				if err != nil {
					logger.Error("relay dispatch failed", "request", msg.Req, "err", err)
					return err
				}
				msg.Respond <- frames
			case MsgPanic:
				return types.ExecutionError{Inner: fmt.Errorf("program goroutine panicked: %s", msg.PanicMsg)}
			case MsgDone:
				return nil
			default:
				return types.ProtocolDesyncError{Reason: fmt.Sprintf("unknown relay message kind 0x%x", uint8(msg.Kind))}
			}
		case <-time.After(timeout):
			logger.Error("relay receive timed out", "timeout", timeout)
			return types.RelayTimeoutError{Elapsed: timeout}
		}
	}
}

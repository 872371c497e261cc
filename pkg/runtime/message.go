package runtime

import (
	"context"
	"fmt"

	"github.com/gomlx/jobflow/pkg/core/tensors"
	"github.com/gomlx/jobflow/pkg/plan"
	"github.com/pkg/errors"
)

// Cmd is a command sent to an actor.
type Cmd int

//go:generate go tool enumer -type Cmd -trimprefix=Cmd -output=gen_cmd_enumer.go message.go

const (
	// CmdConstructActor makes the thread owning the task construct its actor and acknowledge it by
	// decreasing the ConstructingActorCnt counter.
	CmdConstructActor Cmd = iota

	// CmdStart fires a source actor.
	CmdStart
)

// MsgKind tells apart command and data messages.
type MsgKind int

const (
	MsgKindCmd MsgKind = iota
	MsgKindData
)

func (k MsgKind) String() string {
	switch k {
	case MsgKindCmd:
		return "cmd"
	case MsgKindData:
		return "data"
	}
	return fmt.Sprintf("MsgKind(%d)", int(k))
}

// Msg is a message addressed to the actor of task Dst.
type Msg struct {
	Kind     MsgKind
	Src, Dst plan.TaskID

	// DstMachine runs the task Dst. Set on the messages handed to a Transport.
	DstMachine int

	// Cmd of a MsgKindCmd message.
	Cmd Cmd

	// Blobs of a MsgKindData message: the outputs of the actor Src, by LBN.
	Blobs map[string]*tensors.Tensor
}

// String implements fmt.Stringer.
func (m Msg) String() string {
	if m.Kind == MsgKindCmd {
		return fmt.Sprintf("cmd %s to %s", m.Cmd, m.Dst)
	}
	return fmt.Sprintf("data %s->%s (%d blobs)", m.Src, m.Dst, len(m.Blobs))
}

// Transport carries messages to tasks of other machines. Messages arriving from other machines are handed
// to Session.Deliver.
type Transport interface {
	Send(ctx context.Context, msg Msg) error
}

// localTransport is the Transport of a single machine: there is nowhere else to send messages to.
type localTransport struct{}

func (localTransport) Send(_ context.Context, msg Msg) error {
	return errors.Errorf("no route for %s: task is on machine %d", msg, msg.DstMachine)
}

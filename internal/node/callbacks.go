package node

import (
	"context"

	"github.com/skobkin/sensornet/internal/message"
)

// Callbacks are the application hooks of a node. Embed NopCallbacks to
// implement only the hooks you need.
type Callbacks interface {
	// PreHwInit runs before the hardware is initialized.
	PreHwInit(ctx context.Context, n *Node)
	// Before runs after hardware init, before the transport comes up.
	Before(ctx context.Context, n *Node)
	// Setup runs once the node is started.
	Setup(ctx context.Context, n *Node)
	// Presentation is asked to present the node's sensors.
	Presentation(ctx context.Context, n *Node)
	// Loop runs on every iteration of Run.
	Loop(ctx context.Context, n *Node)
	// Receive gets every message addressed to the node that the engine
	// does not consume itself.
	Receive(ctx context.Context, n *Node, msg message.Message)
	// ReceiveTime gets the controller time in seconds since the epoch.
	ReceiveTime(ctx context.Context, n *Node, ts uint32)
}

type NopCallbacks struct{}

func (NopCallbacks) PreHwInit(context.Context, *Node)                {}
func (NopCallbacks) Before(context.Context, *Node)                   {}
func (NopCallbacks) Setup(context.Context, *Node)                    {}
func (NopCallbacks) Presentation(context.Context, *Node)             {}
func (NopCallbacks) Loop(context.Context, *Node)                     {}
func (NopCallbacks) Receive(context.Context, *Node, message.Message) {}
func (NopCallbacks) ReceiveTime(context.Context, *Node, uint32)      {}

package app

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/skobkin/sensornet/internal/config"
	"github.com/skobkin/sensornet/internal/message"
	"github.com/skobkin/sensornet/internal/node"
)

// Reporter is the callback set of a node run from the command line: it
// presents the configured sketch and logs everything the node receives.
type Reporter struct {
	node.NopCallbacks

	sketchName    string
	sketchVersion string
	logger        *slog.Logger
	received      atomic.Uint64
}

func NewReporter(cfg config.NodeConfig, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reporter{
		sketchName:    cfg.SketchName,
		sketchVersion: cfg.SketchVersion,
		logger:        logger.With("sys", "APP"),
	}
}

func (r *Reporter) Setup(_ context.Context, n *node.Node) {
	r.logger.Info("node up", "node_id", n.NodeID(), "parent", n.ParentNodeID(), "state", n.State().String())
}

func (r *Reporter) Presentation(ctx context.Context, n *node.Node) {
	if r.sketchName == "" && r.sketchVersion == "" {
		return
	}
	if err := n.SendSketchInfo(ctx, r.sketchName, r.sketchVersion, false); err != nil {
		r.logger.Warn("send sketch info", "error", err)
	}
}

func (r *Reporter) Receive(_ context.Context, _ *node.Node, msg message.Message) {
	r.received.Add(1)
	typ := any(msg.Type)
	if msg.Command == message.CommandInternal {
		typ = message.InternalName(msg.Type)
	}
	r.logger.Info("received",
		"from", msg.Sender,
		"sensor", msg.Sensor,
		"command", msg.Command.String(),
		"type", typ,
		"ack", msg.IsAck,
		"payload", msg.Text(),
	)
}

func (r *Reporter) ReceiveTime(_ context.Context, _ *node.Node, ts uint32) {
	r.logger.Info("controller time", "time", time.Unix(int64(ts), 0).UTC().Format(time.RFC3339))
}

// Received counts messages delivered to the application.
func (r *Reporter) Received() uint64 {
	return r.received.Load()
}

package connectors

const (
	TopicConnStatus     = "conn.status"
	TopicRawFrameIn     = "raw.frame.in"
	TopicRawFrameOut    = "raw.frame.out"
	TopicMessageIn      = "message.in"
	TopicMessageOut     = "message.out"
	TopicNodeState      = "node.state"
	TopicReassemblyDrop = "reassembly.drop"
	TopicNodeInfo       = "node.info"
)

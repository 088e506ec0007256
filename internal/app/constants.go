package app

const (
	Name            = "sensornet"
	SourceURL       = "https://git.skobk.in/skobkin/sensornet"
	ConfigFilename  = "config.yaml"
	DBFilename      = "node.db"
	LogFilename     = "node.log"
	CaptureDirName  = "captures"
	writerQueueSize = 256
)

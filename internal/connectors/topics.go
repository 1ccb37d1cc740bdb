package connectors

const (
	TopicConnStatus           = "conn.status"
	TopicRawFrameIn           = "raw.frame.in"
	TopicRawFrameOut          = "raw.frame.out"
	TopicDiagnosticLine       = "diagnostic.line"
	TopicConfigurationMessage = "configuration.message"
	TopicPacketMessage        = "packet.message"
	TopicFrameDropped         = "frame.dropped"
)

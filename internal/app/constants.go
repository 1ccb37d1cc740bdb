package app

const (
	Name           = "slipmux"
	SourceURL      = "https://git.skobk.in/skobkin/slipmux"
	ConfigFilename = "config.json"
	DBFilename     = "capture.db"
	LogFilename    = "slipmux.log"
	// CaptureQueueSize bounds pending capture writes before enqueue falls back to a goroutine.
	CaptureQueueSize = 512
)

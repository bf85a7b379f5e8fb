package workers

import "rentwatch/models"

// LogFunc writes a workflow event to the run log.
type LogFunc func(level models.LogLevel, message string)

// NoOpLogger does nothing (default)
var NoOpLogger LogFunc = func(level models.LogLevel, message string) {}

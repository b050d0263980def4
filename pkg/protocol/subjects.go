package protocol

import "fmt"

// NATS subject constants and helpers.
const (
	SubjectEventsAll = "jarvis.events.>"
	StreamNodes      = "nodes"
	StreamCommands   = "commands"
)

func SubjectEvents(stream string) string {
	return fmt.Sprintf("jarvis.events.%s", stream)
}

package natsbus

import "fmt"

// Topic scheme. Specialist task topics carry request/reply invocations;
// event topics carry workflow lifecycle notifications for observers.

func TopicSpecialistTask(name string) string {
	return fmt.Sprintf("specialist.%s.task", name)
}

func TopicSpecialistControl(name string) string {
	return fmt.Sprintf("specialist.%s.control", name)
}

func TopicWorkflowEvents(executionID string) string {
	return fmt.Sprintf("events.workflow.%s", executionID)
}

const (
	TopicEventsAll      = "events.>"
	TopicEventsWorkflow = "events.workflow.*"
)

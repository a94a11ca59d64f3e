package events

// Topics published by the chat pipeline.
const (
	// TopicMessageUpdated fires whenever a message's content or status
	// changes, including every applied streaming partial.
	TopicMessageUpdated = "chat.message.updated"

	// TopicSendCompleted fires once per successful send, after the final
	// assistant message is persisted.
	TopicSendCompleted = "chat.send.completed"

	// TopicSendFailed fires when a send reaches a terminal failure.
	TopicSendFailed = "chat.send.failed"

	// TopicErrorReported fires for every non-deduplicated error report.
	TopicErrorReported = "chat.error.reported"

	// TopicConfigChanged fires when the watched config file is rewritten.
	TopicConfigChanged = "config.changed"
)

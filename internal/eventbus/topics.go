package eventbus

// Schedule lifecycle topics.
const (
	SwapCreated        = "swap.created"
	SwapPaused         = "swap.paused"
	SwapResumed        = "swap.resumed"
	SwapDeleted        = "swap.deleted"
	SwapSkipped        = "swap.skipped"
	SwapSucceeded      = "swap.succeeded"
	SwapRetryScheduled = "swap.retry_scheduled"
	SwapFailed         = "swap.failed"
	SwapCompleted      = "swap.completed"
)

// Task engine topics.
const (
	TaskStarted  = "task.started"
	TaskFinished = "task.finished"
	TaskFailed   = "task.failed"
	TaskSkipped  = "task.skipped"
	TaskDropped  = "task.dropped"
)

// Runtime topics.
const (
	ConfigReloaded  = "config.reloaded"
	SupervisorError = "supervisor.error"
	NotifierQueued  = "notifier.queued"
	NotifierSent    = "notifier.sent"
	NotifierFailed  = "notifier.failed"
	NotifierDropped = "notifier.dropped"
	NotifierDeduped = "notifier.deduped"
	TriggerScanned  = "trigger.scanned"
)

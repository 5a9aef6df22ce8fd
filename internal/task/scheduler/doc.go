// Package scheduler is the trigger evaluator.
//
// A single cron entry fires Scan on every tick. Scan asks the registry for
// due schedules and enqueues one engine task per schedule. It never waits for
// an attempt; execution, guards and retries happen in the task.
package scheduler

// Package swap holds the recurring conversion domain: schedule definitions,
// the schedule state machine, due-time computation, the retry policy and
// the ports to external collaborators (venue, oracles, notifications).
//
// Nothing in this package blocks or owns goroutines. Callers (registry,
// execution, task scheduler) serialize access per schedule.
package swap

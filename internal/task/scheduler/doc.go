// Package scheduler runs activated reminders.
//
// Every reminder gets its own task goroutine that sleeps until the next
// trigger, fires through a Sender and then terminates (one-off) or reschedules
// (birthdays). The Registry maps reminder names to task handles; Enable and
// Disable travel through a one-slot mailbox where the latest command wins,
// Delete cancels the task context so any wait unblocks immediately.
//
// Tasks run under a supervisor.Supervisor, so a panicking task is recovered
// and counted instead of taking the process down.
package scheduler

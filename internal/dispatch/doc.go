// Package dispatch sends one campaign to its recipient snapshot.
//
// A dispatch job freezes the subscribed recipient set, moves the campaign to
// in_progress and fans the snapshot out as chunk jobs. Each chunk job sends
// to its recipients, appends one delivery log row per recipient and asks for
// a completion check. The completion check compares the delivery log count
// with the frozen snapshot size; the single caller that wins the conditional
// in_progress -> completed write queues the report.
//
// Nothing here waits on another job. All coordination goes through the
// campaign row and the delivery log table, so jobs may run in any order on
// any number of worker processes.
package dispatch

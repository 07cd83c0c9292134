// Package schedule drives switches from time windows.
//
// An Executor evaluates every enabled Schedule on a cron tick. Firing is
// edge-triggered: the action is dispatched when a schedule goes from
// inactive to active, and the inverse action is dispatched on the way out
// only for schedules with InverseOnExit set. Commands are issued only to
// targets whose current state differs from the desired one, so a restart in
// the middle of a window neither double-fires nor misses.
//
// Types:
//
//   - always: active whenever enabled
//   - recurring: active on the listed weekdays between Start and End
//     (local "HH:MM"). An End before Start wraps past midnight, and the part
//     after midnight belongs to the previous day's window.
//   - once: active for one tick starting at At
package schedule

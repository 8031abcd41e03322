// Package reconcile owns the headcount reconciliation workflow.
//
// Ownership boundary:
// - scanned-count lookup for one explicit session
// - image submission to the headcount detector
// - match/mismatch comparison
// - result hand-off to a presentation surface
//
// Reconcile does not count attendance or detect people itself; both are
// remote collaborators behind AttendanceStore and HeadcountDetector.
package reconcile

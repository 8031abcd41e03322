// Package upstream is the shared HTTP plumbing for calls to the attendance
// server and the headcount detector.
package upstream

// Package subscriber keeps the set of chat subscribers and their delivery times.
//
// The Registry is shared by the scheduler, the monitor and the command
// surface. Every read returns a copy.
package subscriber

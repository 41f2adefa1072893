// Package cli implements the evsched command tree.
//
//	evsched serve                 run the scheduler
//	evsched event list|get|save|delete|delete-tenant
//	evsched translate             print the cron spec of a recurrence
//
// Event commands work directly on the configured store and never arm
// triggers; a running server picks up changes on restart.
package cli

// Package jobs turns fired scheduler events into downstream messages.
//
// A Dispatcher routes each event to the Job registered for its type. Jobs
// build a transport.Message and push it to the configured Sink; the push
// outcome is reported asynchronously and only logged.
package jobs

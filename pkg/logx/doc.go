// Package logx is a thin structured-logging layer over zerolog.
//
// Console sinks are human-readable with a short file:line caller. File sinks
// are JSON. Throttle gates bursty warnings per key.
package logx

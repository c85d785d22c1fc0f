// Package logx is kioskd's structured logger: a thin value-type wrapper
// over zerolog with typed field helpers and a Service whose level and
// sinks can be swapped while loggers derived from it stay live.
package logx

// Package logx is a thin structured-logging wrapper over zerolog.
//
// It exists so internal packages can log without depending on zerolog types
// directly, and so tests can pass a Nop() logger.
package logx

// Package logx is a small structured-logging facade over zerolog.
//
// Components hold a logx.Logger and derive scoped loggers with With().
// The zero value is a safe no-op logger, which keeps tests quiet without
// nil checks at call sites.
package logx

// Package logx is a thin zerolog wrapper shared by all services.
//
// It exists so the rest of the codebase never imports zerolog directly:
// services log through logx.Logger, which stays "live" across config
// re-applies (level and sink changes take effect without re-plumbing
// loggers through constructors).
package logx

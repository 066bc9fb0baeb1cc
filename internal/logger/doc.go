// Package logger wraps zap with a global sugared logger and context helpers.
//
// Services take the logger from their context, so the run and step
// identifiers attached once with WithKV appear on every line logged below.
// WithLevel lets one logger bypass the global level; the process runner uses
// it to echo subprocess output.
package logger

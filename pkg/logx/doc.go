// Package logx configures timeblock's structured logging.
//
// It wraps zerolog behind a small Logger/Field API so call sites stay
// stable while sinks and levels are hot-swapped at runtime via
// Service.Apply().
package logx

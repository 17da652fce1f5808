// Package logging provides structured logging setup and attribute helpers
// for calblock.
//
// All packages log through log/slog. The helpers here keep attribute names
// consistent so that mirror failures and consistency skips for the same
// source event can be correlated across log lines.
package logging

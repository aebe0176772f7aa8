// Package constants centralizes defaults shared across the CLI and the scan engine.
//
// File permissions, body capture limits and scan tuning defaults live here so
// cmd/ and internal/ can reference them without introducing import cycles.
package constants

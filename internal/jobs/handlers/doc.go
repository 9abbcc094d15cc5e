// Package handlers contains the concrete job handlers registered for
// each job kind: provider sync, batch fan-out, record normalization,
// LLM-backed embedding and insight generation, and retention cleanup.
// Handlers return plain errors; classification and recording happen in
// the runner.
package handlers

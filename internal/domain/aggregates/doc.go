// Package aggregates defines the typed errors returned by aggregate writes.
// Callers branch on the Code, never on message text.
package aggregates

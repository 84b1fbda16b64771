// Package aggregates is the write boundary shared by repos and services.
// Every multi-row write goes through ExecuteWrite, which owns the
// transaction, the error classification and the outcome hooks.
package aggregates

// Package testutil contains fluent builders used across tests to reduce
// boilerplate when scripting model responses, recording tool executions and
// inspecting event streams. Not intended for production usage.
package testutil

// Package agent builds model clients from configuration.
//
// Provider adapters live under internal/llmimpl and are never used directly;
// the factory wraps each one in the middleware chain from pkg/agent/middleware.
// The mock provider replays a scripted conversation for offline runs and tests.
package agent

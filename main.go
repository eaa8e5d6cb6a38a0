// Command poolhttpd serves a static route table over raw TCP.
//
// The listener goroutine accepts connections sequentially and submits one job
// per connection to a fixed pool of workers (internal/dispatcher). Each job
// reads a single request line, resolves it against the route table and writes
// exactly one response before closing. On SIGINT or SIGTERM the listener stops,
// every queued connection is still answered, and the workers are joined.
//
// Run locally: go run . serve --config config.yaml (or rely on POOLHTTPD_* env).
package main

import (
	"github.com/JakeFAU/poolhttpd/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}

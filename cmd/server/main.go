// Package main implements the entry point for the tally-api server, which
// runs long-lived cancellable counter tasks and serves their progress.
package main

import (
	"log"
)

func main() {
	app, err := newApplication()
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := app.run(); err != nil {
		log.Fatalf("Server exited with error: %v", err)
	}
}

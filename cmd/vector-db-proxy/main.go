// Command vector-db-proxy consumes datasource streams from RabbitMQ, embeds
// them and writes the vectors to Qdrant.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// Command kgraphsvc runs the knowledge graph build orchestration service.
package main

import (
	"log"

	"kgraphsvc.evalgo.org/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// Command pmbdctl activates, benchmarks, and inspects pmbd devices from
// the command line.
package main

import (
	"log"

	"go.uber.org/automaxprocs/maxprocs"
)

func main() {
	if _, err := maxprocs.Set(maxprocs.Logger(log.Printf)); err != nil {
		log.Printf("pmbdctl: maxprocs: %v", err)
	}

	Execute()
}

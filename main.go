package main

import (
	"log"

	"github.com/enerflow/hybridmpc/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

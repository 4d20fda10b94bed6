package main

import (
	"os"

	"github.com/Boendestodet/r3kt.dev-sub000/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

// main.go
package main

import (
	"os"

	"github.com/jeremymoreau/covid19mtl/cli"
)

var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		os.Exit(1)
	}
}

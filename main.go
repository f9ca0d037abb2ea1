// The main package for the harvester executable.
package main

import (
	"github.com/opendevdata/harvester/cmd"
)

func main() {
	cmd.Execute()
}

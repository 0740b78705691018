package main

import (
	"os"

	"github.com/scangate/scangate/cmd"
)

// main function remains to call Execute.
func main() {
	cmd.Execute(os.Args[1:])
}

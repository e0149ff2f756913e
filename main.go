// The main package for the prana-ticker executable.
package main

import (
	"github.com/pranadao/prana-ticker/cmd"
)

func main() {
	cmd.Execute()
}

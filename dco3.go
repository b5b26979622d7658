// Upload files to DRACOON upload shares
package main

import (
	"github.com/dco3go/dco3/cmd"
	_ "github.com/dco3go/dco3/cmd/all" // import all commands
)

func main() {
	cmd.Main()
}

// Package all imports all the commands
package all

import (
	// Active commands
	_ "github.com/dco3go/dco3/cmd/authorize"
	_ "github.com/dco3go/dco3/cmd/token"
	_ "github.com/dco3go/dco3/cmd/upload"
	_ "github.com/dco3go/dco3/cmd/version"
	_ "github.com/dco3go/dco3/cmd/whoami"
)

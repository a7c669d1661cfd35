package main

import "github.com/rosterhq/portal-session/cmd/portalctl/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/jmcleod/agentgate/cmd/agentgate/cmd"

func main() {
	cmd.Execute()
}

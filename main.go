package main

import "github.com/agentserver/agentserver/cmd"

func main() {
	cmd.Execute()
}

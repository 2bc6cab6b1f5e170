package main

import "github.com/agentic-research/paleodem/cmd"

func main() {
	cmd.Execute()
}

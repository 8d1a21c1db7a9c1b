package main

import "github.com/pilab-dev/discord-verifier/cmd/verifier/cmd"

func main() {
	cmd.Execute()
}

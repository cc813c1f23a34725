package main

import "github.com/tolgaunal/openday-relay/cmd"

func main() {
	cmd.Execute()
}

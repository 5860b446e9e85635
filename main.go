package main

import "github.com/galaxyproto/caduceus/cmd"

func main() {
	cmd.Execute()
}

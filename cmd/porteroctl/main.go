package main

import "portero.org/cmd/porteroctl/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/loomwire/loomwire/cmd"

func main() {
	cmd.Execute()
}

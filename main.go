package main

import "conch/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/dotcommander/sage-enforce/cmd"

func main() {
	cmd.Execute()
}

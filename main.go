package main

import "github.com/runsascoded/awair/cmd"

func main() {
	cmd.Execute()
}

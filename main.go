package main

import "github.com/bz888/convo/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/bojiang/toy-tunnel/cli"

func main() {
	cli.Execute()
}

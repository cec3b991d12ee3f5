package main

import "github.com/hchap1/rift/internal/cli"

func main() {
	cli.Execute()
}

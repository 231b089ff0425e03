package main

import "github.com/podsift/podsift/internal/cli"

func main() {
	cli.Main()
}

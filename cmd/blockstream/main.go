package main

import "block-streamer/internal/cli"

func main() {
	cli.Execute()
}

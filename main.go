package main

import "github.com/slicebot/slicebot-backend/internal/cli"

func main() {
	cli.Execute()
}

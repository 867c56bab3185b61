package main

import "github.com/buildtall-systems/fleabot/internal/cli"

func main() {
	cli.Execute()
}

package main

import "aave-rate-digest/internal/cli"

func main() {
	cli.Execute()
}

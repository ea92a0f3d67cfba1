package main

import "github.com/tandem-dev/tandem/internal/cli"

func main() {
	cli.Execute()
}

package main

import "github.com/dotpreview-project/dotpreview/internal/cli"

func main() {
	cli.Execute()
}

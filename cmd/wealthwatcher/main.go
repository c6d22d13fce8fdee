package main

import (
	"wealthwatcher/internal/cli"
)

func main() {
	cli.Execute()
}

package main

import "github.com/ppiankov/backupsentry/internal/cli"

func main() {
	cli.Execute()
}

package main

import "github.com/mpeck/notion-backup/cmd"

func main() {
	cmd.Execute()
}

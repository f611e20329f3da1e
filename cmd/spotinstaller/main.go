package main

import "github.com/dagimg-dot/spotinstaller/cmd/spotinstaller/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/aspirely/aspirely-cli/internal/cmd"

func main() {
	cmd.Execute()
}

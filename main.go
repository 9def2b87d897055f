package main

import "github.com/nextlevelbuilder/ironclaw/cmd"

func main() {
	cmd.Execute()
}

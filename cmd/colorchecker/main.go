package main

import "github.com/bryanchriswhite/ColorChecker/cmd/colorchecker/commands"

func main() {
	commands.Execute()
}

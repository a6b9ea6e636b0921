package main

import "github.com/nextlevelbuilder/porter/cmd"

func main() {
	cmd.Execute()
}

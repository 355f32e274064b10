package main

import "github.com/maroda/iqscope/cmd"

func main() {
	cmd.Execute()
}

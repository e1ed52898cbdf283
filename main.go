package main

import "github.com/eikrem/healthsync/cmd"

func main() {
	cmd.Execute()
}

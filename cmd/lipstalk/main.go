package main

import "os"

func main() {
	err := newRootCommand().Execute()
	printError(os.Stderr, err)
	os.Exit(exitCode(err))
}

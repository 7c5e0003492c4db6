package main

import (
	"fmt"
	"os"

	_ "k8s.io/client-go/plugin/pkg/client/auth"
)

// version is set at build time
var version = "dev"

func main() {
	if err := execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// execute runs the command line and releases whatever the command opened
func execute(args []string) error {
	opts := &rootOptions{}
	root := newRootCmd(opts)
	root.SetArgs(args)
	defer opts.cleanup()

	return root.Execute()
}

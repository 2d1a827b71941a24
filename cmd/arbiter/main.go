package main

import (
	"fmt"
	"log"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "serve":
		if err := runServe(os.Args[2:]); err != nil {
			log.Fatalf("arbiter serve failed: %v", err)
		}
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  arbiter serve [flags]")
	fmt.Println()
	fmt.Println("Subcommands:")
	fmt.Println("  serve  Start the event dispatch and agent runtime server")
	fmt.Println()
	fmt.Println("Use 'arbiter serve -h' for serve-specific flags.")
}

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/wordflowlab/devtrail"
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
			log.Fatalf("devtrail serve failed: %v", err)
		}
	case "resync":
		if err := runResync(os.Args[2:]); err != nil {
			log.Fatalf("devtrail resync failed: %v", err)
		}
	case "migrate":
		if err := runMigrate(os.Args[2:]); err != nil {
			log.Fatalf("devtrail migrate failed: %v", err)
		}
	case "version":
		info := devtrail.GetVersionInfo()
		fmt.Printf("devtrail %s (commit %s, built %s, %s)\n", info.Version, orUnknown(info.GitCommit), orUnknown(info.BuildTime), info.GoVersion)
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
	fmt.Println("  devtrail serve   [flags]")
	fmt.Println("  devtrail resync  [flags]")
	fmt.Println("  devtrail migrate [flags]")
	fmt.Println("  devtrail version")
	fmt.Println()
	fmt.Println("Subcommands:")
	fmt.Println("  serve    Receive GitHub webhooks and serve the search and timeline API")
	fmt.Println("  resync   Re-embed every canonical object into the vector store")
	fmt.Println("  migrate  Create or update the event store and vector schemas")
	fmt.Println("  version  Print version information")
	fmt.Println()
	fmt.Println("Use 'devtrail <subcommand> -h' for subcommand-specific flags.")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

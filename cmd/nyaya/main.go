package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServer

// command is one `nyaya <name>` subcommand.
type command struct {
	name    string
	aliases []string
	section string
	summary string
	run     func(args []string, stdout, stderr io.Writer) int
}

func commands() []command {
	return []command{
		{name: "server", aliases: []string{"serve"}, section: "SERVICE",
			summary: "Run the API and health servers (default)",
			run:     func(_ []string, stdout, stderr io.Writer) int { return startServer(stdout, stderr) }},
		{name: "health", section: "SERVICE",
			summary: "Probe the health endpoint [URL]",
			run:     runHealthCmd},
		{name: "verify", section: "AUDIT",
			summary: "Verify the ledger hash chain (--backend, --path, --json)",
			run:     runVerifyCmd},
		{name: "trace", section: "AUDIT",
			summary: "Reconstruct one trace as JSON (--id, --backend, --path)",
			run:     runTraceCmd},
	}
}

// Run is the entrypoint for testing. With no subcommand, or only flags, it
// starts the server.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 || (strings.HasPrefix(args[1], "-") && !isHelp(args[1])) {
		return startServer(stdout, stderr)
	}

	name := args[1]
	if name == "help" || isHelp(name) {
		printUsage(stdout)
		return 0
	}
	for _, c := range commands() {
		if c.name == name || contains(c.aliases, name) {
			return c.run(args[2:], stdout, stderr)
		}
	}

	_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", name)
	printUsage(stderr)
	return 2
}

func isHelp(arg string) bool { return arg == "-h" || arg == "--help" }

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorRed   = "\033[31m"
	ColorGreen = "\033[32m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintf(w, "\n%sNyaya trust core%s\n", ColorBold+ColorBlue, ColorReset)
	_, _ = fmt.Fprintf(w, "%sEvery decision sealed, every trace replayable.%s\n\n", ColorGray, ColorReset)
	_, _ = fmt.Fprintf(w, "%sUSAGE:%s\n  nyaya <command> [flags]\n\n", ColorBold, ColorReset)

	section := ""
	for _, c := range commands() {
		if c.section != section {
			section = c.section
			_, _ = fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, section, ColorReset)
		}
		_, _ = fmt.Fprintf(w, "  %s%-10s%s %s\n", ColorGreen, c.name, ColorReset, c.summary)
	}
	_, _ = fmt.Fprintf(w, "  %s%-10s%s %s\n\n", ColorGreen, "help", ColorReset, "Show this help")
}

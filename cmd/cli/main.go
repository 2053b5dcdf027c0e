package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"mangosqueezy/internal/cli/cmd"
)

func main() {
	if len(os.Args) > 1 {
		if err := cmd.NewRootCommand().Execute(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	startInteractiveMode()
}

func startInteractiveMode() {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("mango cli - type 'help' to show help, 'exit' or 'quit' to quit")
	fmt.Print(">> ")

	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "exit" || input == "quit" {
			break
		}
		if input == "" {
			fmt.Print(">> ")
			continue
		}

		// a fresh root per line so flags don't leak between commands
		root := cmd.NewRootCommand()
		if input == "help" {
			_ = root.Help()
			fmt.Print(">> ")
			continue
		}
		root.SetArgs(strings.Fields(input))
		if err := root.Execute(); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
		fmt.Print(">> ")
	}
}

package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"chatcore/internal/config"
	"chatcore/internal/identity"
)

func main() {
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "login":
		cmdLogin(args[1:])
	case "logout":
		cmdLogout()
	case "whoami":
		cmdWhoami(*jsonFlag)
	case "config":
		if len(args) >= 2 && args[1] == "init" {
			cmdConfigInit()
		} else {
			fmt.Fprintln(os.Stderr, "usage: chatcorectl config init")
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatcorectl [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  login [token]    Store a bearer credential (reads stdin if omitted)")
	fmt.Fprintln(os.Stderr, "  logout           Remove the stored credential")
	fmt.Fprintln(os.Stderr, "  whoami           Show the identity in the stored credential")
	fmt.Fprintln(os.Stderr, "  config init      Write the default config file")
}

func cmdLogin(args []string) {
	var token string
	if len(args) > 0 {
		token = args[0]
	} else {
		fmt.Fprint(os.Stderr, "token: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		token = line
	}
	token = strings.TrimSpace(token)

	ident, err := identity.Resolve(token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := config.EnsureDirs(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(config.TokenPath(), []byte(token), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("logged in as %s (id %d)\n", ident.Email, ident.ID)
}

func cmdLogout() {
	if err := os.Remove(config.TokenPath()); err != nil {
		if os.IsNotExist(err) {
			fmt.Println("no stored credential")
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("logged out")
}

func cmdWhoami(jsonOut bool) {
	ident, err := identity.ResolveFromFile(config.TokenPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		out, _ := json.MarshalIndent(ident, "", "  ")
		fmt.Println(string(out))
		return
	}
	fmt.Printf("ID:    %d\n", ident.ID)
	fmt.Printf("Email: %s\n", ident.Email)
	if ident.Role != "" {
		fmt.Printf("Role:  %s\n", ident.Role)
	}
}

func cmdConfigInit() {
	path := config.ConfigPath()
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "error: %s already exists\n", path)
		os.Exit(1)
	}
	if err := config.Save(path, config.Default()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s\n", path)
}

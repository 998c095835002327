// Command armctl talks to a running roboarm daemon over its websocket
// command channel.
//
//	armctl [-url ws://host:8080/ws] <command> [args...]
//	armctl shell
//	armctl watch
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

func main() {
	url := flag.String("url", envOr("ROBOARM_URL", "ws://localhost:8080/ws"), "command channel URL")
	timeout := flag.Duration("timeout", 3*time.Second, "reply timeout")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	if args[0] == "watch" {
		if err := watch(statusURL(*url), *timeout); err != nil {
			fmt.Fprintln(os.Stderr, errStyle.Render(err.Error()))
			os.Exit(1)
		}
		return
	}

	c, err := Dial(*url, *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render(err.Error()))
		os.Exit(1)
	}
	defer c.Close()

	if args[0] == "shell" {
		runShell(c)
		return
	}

	out, err := execute(c, args)
	if err != nil {
		if errors.Is(err, errUsage) {
			usage()
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, errStyle.Render(err.Error()))
		os.Exit(1)
	}
	if out != "" {
		fmt.Println(out)
	}
}

// execute builds and sends one command, returning the rendered reply.
func execute(c *Client, args []string) (string, error) {
	req, err := build(args)
	if err != nil {
		return "", err
	}
	if req.silent {
		return dimStyle.Render("sent"), c.Send(req.payload)
	}
	reply, err := c.Request(req.payload)
	if err != nil {
		return "", fmt.Errorf("no reply: %w", err)
	}
	return render(reply), nil
}

// watch prints status broadcasts until the connection drops.
func watch(url string, timeout time.Duration) error {
	c, err := Dial(url, timeout)
	if err != nil {
		return err
	}
	defer c.Close()

	for {
		data, err := c.Next()
		if err != nil {
			return err
		}
		fmt.Println(render(data))
		fmt.Println()
	}
}

// statusURL derives the observer URL from the command URL.
func statusURL(url string) string {
	return strings.TrimSuffix(url, "/") + "/status"
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: armctl [flags] <command> [args...]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  shell                interactive session")
	fmt.Fprintln(os.Stderr, "  watch                print status broadcasts")
	for _, sc := range shellCommands {
		fmt.Fprintf(os.Stderr, "  %s\n", sc.help)
	}
	fmt.Fprintln(os.Stderr)
	flag.PrintDefaults()
}

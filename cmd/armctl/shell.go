package main

import (
	"strings"

	"github.com/abiosoft/ishell/v2"
)

var shellCommands = []struct {
	name string
	help string
}{
	{"ping", "ping"},
	{"status", "status"},
	{"home", "home [ms]"},
	{"frame", "frame <deg...> [ms=N]  (_ holds a joint)"},
	{"rt", "rt <deg...>"},
	{"stream_start", "stream_start [freq]"},
	{"stream", "stream <deg...>"},
	{"stream_stop", "stream_stop"},
	{"led", "led <0-255>"},
	{"rgb", "rgb <r> <g> <b>"},
	{"freq", "freq <hz>"},
	{"config", "config <ch> min_us=N max_us=N offset_us=N invert=bool"},
	{"send", "send <json>"},
}

// runShell starts an interactive session on c.
func runShell(c *Client) {
	shell := ishell.New()
	shell.Println(headerStyle.Render("roboarm shell"))
	shell.Println(render(c.Welcome))
	shell.ShowPrompt(true)

	for _, sc := range shellCommands {
		name := sc.name
		shell.AddCmd(&ishell.Cmd{
			Name: name,
			Help: sc.help,
			Func: func(ctx *ishell.Context) {
				out, err := execute(c, append([]string{name}, ctx.Args...))
				if err != nil {
					ctx.Err(err)
					return
				}
				if out != "" {
					ctx.Println(out)
				}
			},
		})
	}

	shell.NotFound(func(ctx *ishell.Context) {
		ctx.Println(errStyle.Render("unknown command: " + strings.Join(ctx.RawArgs, " ")))
	})

	shell.Run()
	shell.Close()
}

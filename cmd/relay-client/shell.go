package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chzyer/readline"

	"github.com/cipherdesk/relay/internal/client"
)

// runShell drives the interactive chat session: a background goroutine
// prints events (incoming messages, roster changes, disconnects) as
// they arrive while readline collects slash commands on the foreground.
func runShell(c *client.Client, login string) {
	fmt.Printf("connected as %s. commands: /send <user> <text>, /add <user>, /remove <user>, /contacts, /users, /quit\n", login)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-c.Events:
				if !ok {
					return
				}
				printEvent(ev)
				if ev.Kind == client.EventConnectionLost {
					close(done)
					return
				}
			case <-done:
				return
			}
		}
	}()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            fmt.Sprintf("%s> ", login),
		InterruptPrompt:   "^C",
		EOFPrompt:         "/quit",
		HistorySearchFold: true,
	})
	if err != nil {
		fmt.Printf("failed to start interactive shell: %v\n", err)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			fmt.Println("commands start with /, e.g. /send bob hello")
			continue
		}
		if handleCommand(c, line) {
			break
		}
	}
}

// handleCommand runs one slash command and reports whether the shell
// should exit.
func handleCommand(c *client.Client, line string) (quit bool) {
	fields := strings.SplitN(line, " ", 3)
	switch fields[0] {
	case "/quit":
		return true
	case "/contacts":
		contacts, err := c.RequestContacts()
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		fmt.Println(strings.Join(contacts, ", "))
	case "/users":
		users, err := c.RequestUsers()
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		fmt.Println(strings.Join(users, ", "))
	case "/add":
		if len(fields) < 2 {
			fmt.Println("usage: /add <user>")
			return false
		}
		if err := c.AddContact(fields[1]); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	case "/remove":
		if len(fields) < 2 {
			fmt.Println("usage: /remove <user>")
			return false
		}
		if err := c.RemoveContact(fields[1]); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	case "/send":
		if len(fields) < 3 {
			fmt.Println("usage: /send <user> <text>")
			return false
		}
		if err := c.SendMessage(fields[1], fields[2]); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	default:
		fmt.Printf("unknown command %q\n", fields[0])
	}
	return false
}

func printEvent(ev client.Event) {
	switch ev.Kind {
	case client.EventMessage:
		fmt.Printf("\n%s: %s\n", ev.From, ev.Text)
	case client.EventRosterChanged:
		fmt.Println("\n(roster changed, contacts/users refreshed)")
	case client.EventConnectionLost:
		fmt.Println("\n(connection to server lost)")
	}
}

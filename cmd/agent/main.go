// Package main is the entrypoint for the sample client agent.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/morezero/mediator-broker/internal/server"
)

const usage = `Usage: agent [command]
       agent serve                    Register the sample Ping, Echo and NodeJoined handlers and serve them.
       agent call <Type> [json]       Send one Request through the broker and print the Response payload.
       agent notify <Type> [json]     Publish one Notification through the broker.

Commands:
  serve    (default) Run the sample agent until SIGINT/SIGTERM.
  call     e.g. agent call Ping '{"msg":"hi"}'
  notify   e.g. agent notify NodeJoined '{"clientName":"cli"}'

Environment: AGENT_BROKER_ADDR (default 127.0.0.1:3333), AGENT_LISTEN_ADDR, AGENT_ADVERTISE_HOST,
AGENT_CLIENT_NAME, AGENT_REQUEST_TIMEOUT, AGENT_REGISTER_INTERVAL, LOG_LEVEL.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "call":
		typeName, payload, err := typeAndPayload(args[1:])
		if err != nil {
			log.Fatalf("agent call: %v", err)
		}
		out, err := server.CallOnce(typeName, payload)
		if err != nil {
			log.Fatalf("agent call %s: %v", typeName, err)
		}
		fmt.Println(string(out))
		return
	case "notify":
		typeName, payload, err := typeAndPayload(args[1:])
		if err != nil {
			log.Fatalf("agent notify: %v", err)
		}
		if err := server.NotifyOnce(typeName, payload); err != nil {
			log.Fatalf("agent notify %s: %v", typeName, err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.RunAgent(); err != nil {
		log.Fatalf("agent: %v", err)
	}
}

// typeAndPayload splits "<Type> [json...]"; the remaining words form the payload.
func typeAndPayload(args []string) (string, string, error) {
	if len(args) == 0 || args[0] == "" {
		return "", "", fmt.Errorf("require a type name")
	}
	return args[0], strings.Join(args[1:], " "), nil
}

// agent-module is a standalone remote agent module: it connects to the
// broker's NATS endpoint, announces itself, and serves dispatch payloads
// over request/reply. Useful for wiring external runners into the fleet
// and for exercising the module bridge end to end.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fingerworks/finger/internal/natsbridge"
	nc "github.com/nats-io/nats.go"
)

func main() {
	url := flag.String("nats", "nats://127.0.0.1:4222", "Broker NATS URL")
	moduleID := flag.String("id", "", "Module id to register (required)")
	moduleType := flag.String("type", "agent", "Module type")
	provider := flag.String("provider", "", "Provider hint")
	flag.Parse()

	if *moduleID == "" {
		fmt.Fprintln(os.Stderr, "usage: agent-module -id <module-id> [-nats url]")
		os.Exit(1)
	}

	conn, err := natsbridge.Connect(*url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	subject := fmt.Sprintf(natsbridge.SubjectModuleRequest, *moduleID)
	sub, err := conn.Subscribe(subject, func(msg *nc.Msg) {
		var payload map[string]any
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			respond(msg, natsbridge.Reply{Error: "malformed payload", Status: 400})
			return
		}

		text, _ := payload["text"].(string)
		log.Printf("[MODULE] %s handling: %q", *moduleID, text)

		result, _ := json.Marshal(map[string]any{
			"moduleId": *moduleID,
			"text":     fmt.Sprintf("[%s] handled: %s", *moduleID, text),
		})
		respond(msg, natsbridge.Reply{OK: true, Result: result})
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to subscribe: %v\n", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()

	announce, _ := json.Marshal(natsbridge.Announcement{
		ID:       *moduleID,
		Type:     *moduleType,
		Provider: *provider,
	})
	if _, err := conn.Request(natsbridge.SubjectModuleRegister, announce, 5*time.Second); err != nil {
		// The broker may not ack registrations; publish-and-go is fine.
		if err := conn.Publish(natsbridge.SubjectModuleRegister, announce); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to announce module: %v\n", err)
			os.Exit(1)
		}
	}
	log.Printf("[MODULE] Registered %s (type=%s)", *moduleID, *moduleType)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	bye, _ := json.Marshal(natsbridge.Announcement{ID: *moduleID})
	conn.Publish(natsbridge.SubjectModuleUnregister, bye)
	conn.Flush()
	log.Printf("[MODULE] Unregistered %s", *moduleID)
	os.Exit(0)
}

func respond(msg *nc.Msg, reply natsbridge.Reply) {
	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	msg.Respond(data)
}

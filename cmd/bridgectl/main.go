package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pushbridge/pushbridge/internal/admin"
	"github.com/pushbridge/pushbridge/internal/pending"
	"github.com/pushbridge/pushbridge/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := newClient(profile.SocketPath(profileName))

	switch args[0] {
	case "status":
		cmdStatus(c, *jsonFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: bridgectl send <number> <message>")
			os.Exit(1)
		}
		cmdSend(c, args[1], strings.Join(args[2:], " "))
	case "pending":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: bridgectl pending <list|approve|discard>")
			os.Exit(1)
		}
		cmdPending(c, args[1:], *jsonFlag)
	case "refresh":
		cmdRefresh(c)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: bridgectl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                  Show daemon status")
	fmt.Fprintln(os.Stderr, "  send <number> <text>    Queue an outgoing message")
	fmt.Fprintln(os.Stderr, "  pending list            List messages held for identity approval")
	fmt.Fprintln(os.Stderr, "  pending approve <id>    Approve the new identity and replay the message")
	fmt.Fprintln(os.Stderr, "  pending discard <id>    Discard a held message")
	fmt.Fprintln(os.Stderr, "  refresh                 Trigger a directory refresh")
}

// client speaks the control API over the daemon's Unix socket.
type client struct {
	hc *http.Client
}

func newClient(socketPath string) *client {
	return &client{hc: &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
		Timeout: 10 * time.Second,
	}}
}

func (c *client) do(method, path string, body any) ([]byte, int) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			fatal(err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, "http://unix"+path, reader)
	if err != nil {
		fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon: %v\n", err)
		fmt.Fprintln(os.Stderr, "is bridged running for this profile?")
		os.Exit(1)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fatal(err)
	}
	return data, resp.StatusCode
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func fatalStatus(data []byte, code int) {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		fmt.Fprintf(os.Stderr, "error: %s (HTTP %d)\n", e.Error, code)
	} else {
		fmt.Fprintf(os.Stderr, "error: HTTP %d\n", code)
	}
	os.Exit(1)
}

func cmdStatus(c *client, jsonOut bool) {
	data, code := c.do(http.MethodGet, "/v1/status", nil)
	if code != http.StatusOK {
		fatalStatus(data, code)
	}
	if jsonOut {
		fmt.Println(string(bytes.TrimSpace(data)))
		return
	}
	var s admin.StatusResponse
	if err := json.Unmarshal(data, &s); err != nil {
		fatal(err)
	}
	fmt.Printf("Profile:   %s\n", s.Profile)
	fmt.Printf("State:     %s\n", s.State)
	fmt.Printf("Pending:   %d\n", s.PendingCount)
	fmt.Printf("Queued:    %d\n", s.QueueDepth)
	fmt.Printf("Directory: %d contacts\n", s.DirectorySize)
}

func cmdSend(c *client, destination, body string) {
	data, code := c.do(http.MethodPost, "/v1/messages", admin.SendMessageRequest{
		Destinations: []string{destination},
		Body:         body,
	})
	if code != http.StatusAccepted {
		fatalStatus(data, code)
	}
	var resp admin.SendMessageResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		fatal(err)
	}
	fmt.Printf("queued (timestamp %d)\n", resp.Timestamp)
}

func cmdPending(c *client, args []string, jsonOut bool) {
	switch args[0] {
	case "list":
		data, code := c.do(http.MethodGet, "/v1/pending", nil)
		if code != http.StatusOK {
			fatalStatus(data, code)
		}
		if jsonOut {
			fmt.Println(string(bytes.TrimSpace(data)))
			return
		}
		var entries []pending.Entry
		if err := json.Unmarshal(data, &entries); err != nil {
			fatal(err)
		}
		if len(entries) == 0 {
			fmt.Println("no messages held for approval")
			return
		}
		for _, e := range entries {
			fmt.Printf("%s  %s  (message timestamp %d)\n", e.ID, e.Source, e.Timestamp)
		}
	case "approve":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: bridgectl pending approve <id>")
			os.Exit(1)
		}
		data, code := c.do(http.MethodPost, "/v1/pending/"+args[1]+"/approve", nil)
		if code != http.StatusAccepted {
			fatalStatus(data, code)
		}
		fmt.Println("approved; message will be reprocessed")
	case "discard":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: bridgectl pending discard <id>")
			os.Exit(1)
		}
		data, code := c.do(http.MethodPost, "/v1/pending/"+args[1]+"/discard", nil)
		if code != http.StatusNoContent {
			fatalStatus(data, code)
		}
		fmt.Println("discarded")
	default:
		fmt.Fprintln(os.Stderr, "usage: bridgectl pending <list|approve|discard>")
		os.Exit(1)
	}
}

func cmdRefresh(c *client) {
	data, code := c.do(http.MethodPost, "/v1/directory/refresh", nil)
	if code != http.StatusAccepted {
		fatalStatus(data, code)
	}
	fmt.Println("directory refresh triggered")
}

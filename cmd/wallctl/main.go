package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/wallchat/internal/api"
	"github.com/matheus3301/wallchat/internal/session"
)

func main() {
	accountFlag := flag.String("account", "", "account name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	account := session.Resolve(*accountFlag)
	if err := session.ValidateName(account); err != nil {
		fatalf("%v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	conn, err := api.Dial(session.SocketPath(account))
	if err != nil {
		fatalf("cannot connect to daemon for account %q: %v", account, err)
	}
	defer func() { _ = conn.Close() }()
	c := api.NewControlClient(conn)

	if args[0] == "watch" {
		cmdWatch(c, *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var resp map[string]any
	switch args[0] {
	case "status":
		resp, err = c.Status(ctx)
		if err == nil && !*jsonFlag {
			printStatus(resp)
			return
		}
	case "conversations":
		limit := 0
		if len(args) > 1 {
			limit = atoi(args[1])
		}
		resp, err = c.Conversations(ctx, limit)
		if err == nil && !*jsonFlag {
			printConversations(resp)
			return
		}
	case "messages":
		need(args, 2, "messages <user_id> [page]")
		page := 0
		if len(args) > 2 {
			page = atoi(args[2])
		}
		resp, err = c.Messages(ctx, args[1], page, nil)
		if err == nil && !*jsonFlag {
			printMessages(resp)
			return
		}
	case "open", "close":
		need(args, 2, args[0]+" <user_id>")
		focus := args[0] == "open"
		resp, err = c.Messages(ctx, args[1], 0, &focus)
		if err == nil && !*jsonFlag {
			printMessages(resp)
			return
		}
	case "send":
		need(args, 3, "send <user_id> <text...>")
		resp, err = c.Send(ctx, args[1], strings.Join(args[2:], " "))
	case "read":
		need(args, 2, "read <user_id>")
		resp, err = c.MarkRead(ctx, args[1])
	case "clear":
		need(args, 2, "clear <user_id> | clear --all")
		user := args[1]
		if user == "--all" {
			user = ""
		}
		resp, err = c.Clear(ctx, user)
	case "poll":
		need(args, 2, "poll <post_id>")
		resp, err = c.Poll(ctx, args[1], true)
	case "vote":
		need(args, 3, "vote <post_id> <option_id>")
		resp, err = c.Vote(ctx, args[1], args[2])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fatalf("%v", err)
	}
	outputJSON(resp)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wallctl [--account <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                      Show daemon and connection status")
	fmt.Fprintln(os.Stderr, "  conversations [limit]       List conversations, most recent first")
	fmt.Fprintln(os.Stderr, "  messages <user> [page]      Show a conversation, loading a history page")
	fmt.Fprintln(os.Stderr, "  open <user>                 Focus a conversation (incoming messages are read)")
	fmt.Fprintln(os.Stderr, "  close <user>                Clear the focused conversation")
	fmt.Fprintln(os.Stderr, "  send <user> <text...>       Send a message")
	fmt.Fprintln(os.Stderr, "  read <user>                 Mark a conversation as read")
	fmt.Fprintln(os.Stderr, "  clear <user> | clear --all  Forget cached conversations (--all on logout)")
	fmt.Fprintln(os.Stderr, "  poll <post>                 Show poll results")
	fmt.Fprintln(os.Stderr, "  vote <post> <option>        Vote in a poll")
	fmt.Fprintln(os.Stderr, "  watch                       Stream chat events until interrupted")
}

func cmdWatch(c *api.ControlClient, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	recv, err := c.Watch(ctx)
	if err != nil {
		fatalf("%v", err)
	}
	for {
		evt, err := recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fatalf("%v", err)
		}
		if jsonOut {
			outputJSON(evt)
			continue
		}
		ts := time.UnixMilli(int64(num(evt["occurred_at_unix_ms"]))).Format("15:04:05")
		payload, _ := json.Marshal(evt["payload"])
		fmt.Printf("%s %-28s %s\n", ts, evt["kind"], payload)
	}
}

func printStatus(resp map[string]any) {
	fmt.Printf("Account:       %s\n", resp["account"])
	fmt.Printf("Connection:    %s\n", resp["state"])
	if e, _ := resp["error"].(string); e != "" {
		fmt.Printf("Last error:    %s\n", e)
	}
	fmt.Printf("Conversations: %d\n", int(num(resp["conversations"])))
	fmt.Printf("Unread:        %d\n", int(num(resp["unread_total"])))
	fmt.Printf("Uptime:        %s\n", (time.Duration(num(resp["uptime_ms"])) * time.Millisecond).Round(time.Second))
}

func printConversations(resp map[string]any) {
	list, _ := resp["conversations"].([]any)
	if len(list) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, item := range list {
		c, _ := item.(map[string]any)
		name, _ := c["profile_name"].(string)
		if name == "" {
			name, _ = c["user_id"].(string)
		}
		preview := ""
		if lm, ok := c["last_message"].(map[string]any); ok {
			preview, _ = lm["content"].(string)
		}
		fmt.Printf("%-24s %3d  %s\n", sanitize(name), int(num(c["unread_count"])), sanitize(preview))
	}
}

func printMessages(resp map[string]any) {
	list, _ := resp["messages"].([]any)
	for _, item := range list {
		m, _ := item.(map[string]any)
		mark := " "
		if read, _ := m["read"].(bool); !read {
			mark = "*"
		}
		content, _ := m["content"].(string)
		fmt.Printf("%s %s %-16s %s\n", mark, m["created_at"], m["sender_id"], sanitize(content))
	}
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: wallctl %s\n", usage)
		os.Exit(1)
	}
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		fatalf("invalid number %q", s)
	}
	return n
}

func num(v any) float64 {
	f, _ := v.(float64)
	return f
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vitalhq/pulse/internal/chat/runner"
	"github.com/vitalhq/pulse/internal/chat/store"
	"github.com/vitalhq/pulse/internal/events"
)

func chatCmd() *cobra.Command {
	var conversationID string

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the health assistant",
		Long: `Send a message and stream the reply, or start an interactive session.

Examples:
  pulse chat "What do my latest lab results mean?"
  pulse chat                       # interactive session
  pulse chat --conversation <id>   # continue an existing conversation`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				fmt.Println("\nInterrupted")
				cancel()
			}()

			if conversationID != "" {
				if err := a.runner.SetActiveConversation(ctx, conversationID); err != nil {
					return err
				}
			} else {
				if _, err := a.runner.NewConversation(ctx, "", nil); err != nil {
					return err
				}
			}

			if len(args) > 0 {
				return sendOnce(ctx, a, strings.Join(args, " "))
			}
			return runInteractive(ctx, a)
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "continue an existing conversation by id")
	return cmd
}

// sendOnce sends a single message and prints the reply.
func sendOnce(ctx context.Context, a *app, message string) error {
	if a.cfg.Streaming {
		return streamReply(ctx, a, message)
	}

	reply, err := a.runner.Send(ctx, message)
	if err != nil {
		return err
	}
	fmt.Println(reply.Content)
	return nil
}

// streamReply sends on the streaming path and prints deltas as they apply.
func streamReply(ctx context.Context, a *app, message string) error {
	printer := &deltaPrinter{}
	sub := events.Subscribe(a.bus, events.TopicMessageUpdated,
		func(ctx context.Context, evt runner.MessageEvent) error {
			if evt.Message.Role == store.RoleAssistant {
				printer.print(evt.Message.Content)
			}
			return nil
		})

	reply, err := a.runner.SendStreaming(ctx, message)
	sub.Unsubscribe()
	if err != nil {
		return err
	}

	printer.print(reply.Content)
	fmt.Println()
	return nil
}

// deltaPrinter emits only the unseen suffix of monotonically growing content.
type deltaPrinter struct {
	mu      sync.Mutex
	printed int
}

func (p *deltaPrinter) print(content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(content) > p.printed {
		fmt.Print(content[p.printed:])
		p.printed = len(content)
	}
}

// runInteractive runs the chat REPL.
func runInteractive(ctx context.Context, a *app) error {
	fmt.Println("Pulse interactive chat. Type a message, /help for commands, Ctrl+C to exit.")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Print("> ")

		line, err := reader.ReadString('\n')
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if done := handleCommand(ctx, a, line); done {
				return nil
			}
			continue
		}

		if err := sendOnce(ctx, a, line); err != nil {
			switch {
			case errors.Is(err, runner.ErrNotConnected):
				fmt.Fprintln(os.Stderr, "Offline. Check your connection and use /retry when back.")
			default:
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
		}
		fmt.Println()
	}
}

// handleCommand handles REPL slash commands; returns true to exit.
func handleCommand(ctx context.Context, a *app, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/help":
		fmt.Println(`Commands:
  /help            Show this help
  /new             Start a new conversation
  /retry           Retry the last failed message
  /provider <id>   Switch AI backend
  /quit            Exit`)

	case "/new":
		if _, err := a.runner.NewConversation(ctx, "", nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		} else {
			fmt.Println("New conversation started.")
		}

	case "/retry":
		conv := a.runner.ActiveConversation()
		var failed *store.Message
		if conv != nil {
			for _, m := range conv.Messages {
				if m.CanRetry() {
					failed = m
				}
			}
		}
		if failed == nil {
			fmt.Println("Nothing to retry.")
			break
		}
		if err := a.runner.RetryMessage(ctx, failed.ID); err != nil {
			fmt.Fprintf(os.Stderr, "Retry failed: %v\n", err)
		}

	case "/provider":
		if arg == "" {
			fmt.Printf("Available: %s\n", strings.Join(a.registry.IDs(), ", "))
			break
		}
		if err := a.registry.SetActive(arg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		} else {
			fmt.Printf("Switched to %s.\n", arg)
		}

	case "/quit", "/exit":
		return true

	default:
		fmt.Println("Unknown command. /help for help.")
	}
	return false
}

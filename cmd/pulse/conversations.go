package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vitalhq/pulse/internal/chat/store"
)

func conversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Manage stored conversations",
	}
	cmd.AddCommand(conversationsListCmd())
	cmd.AddCommand(conversationsSearchCmd())
	cmd.AddCommand(conversationsStatsCmd())
	cmd.AddCommand(conversationsDeleteCmd())
	cmd.AddCommand(conversationsClearCmd())
	return cmd
}

func conversationsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			convs, err := a.store.Conversations(cmd.Context())
			if err != nil {
				return err
			}
			printConversations(convs)
			return nil
		},
	}
}

func conversationsSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search conversations by title and message content",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			convs, err := a.store.Search(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			printConversations(convs)
			return nil
		},
	}
}

func conversationsStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show chat history statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.store.Statistics(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Conversations:   %d\n", st.Conversations)
			fmt.Printf("Messages:        %d\n", st.Messages)
			fmt.Printf("Failed messages: %d\n", st.FailedMessages)
			fmt.Printf("Total tokens:    %d\n", st.TotalTokens)
			return nil
		},
	}
}

func conversationsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("Deleted.")
			return nil
		},
	}
}

func conversationsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <id>",
		Short: "Remove all messages from a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.ClearMessages(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("Cleared.")
			return nil
		},
	}
}

func printConversations(convs []*store.Conversation) {
	if len(convs) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, c := range convs {
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		archived := ""
		if c.Archived {
			archived = " [archived]"
		}
		fmt.Printf("%s  %s  (%d messages, updated %s)%s\n",
			c.ID, title, len(c.Messages), c.UpdatedAt.Format("2006-01-02 15:04"), archived)
	}
}

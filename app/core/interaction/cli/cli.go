package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"taskbot/app/pkg/types"
)

// CLIChannel reads commands from stdin and prints replies to stdout.
// Useful for poking the bot locally without a Telegram token.
type CLIChannel struct {
	id     string
	chatID string
}

func NewCLIChannel(chatID string) *CLIChannel {
	if strings.TrimSpace(chatID) == "" {
		chatID = "local_chat"
	}
	return &CLIChannel{id: "cli", chatID: chatID}
}

func (c *CLIChannel) ID() string {
	return c.id
}

func (c *CLIChannel) Start(ctx context.Context, handler func(types.Message)) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println(">> Taskbot CLI started. Type 'exit' to quit.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			fmt.Print("> ")
			if !scanner.Scan() {
				return nil
			}
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			if text == "exit" || text == "quit" {
				fmt.Println("Exiting CLI loop...")
				return nil
			}

			handler(types.Message{
				ID:        fmt.Sprintf("cli-%d", time.Now().UnixNano()),
				Content:   text,
				Role:      types.MessageRoleUser,
				ChannelID: c.id,
				ChatID:    c.chatID,
				FirstName: "Local",
				Username:  "local",
			})
		}
	}
}

func (c *CLIChannel) Send(ctx context.Context, msg types.Message) error {
	fmt.Printf("[Taskbot]: %s\n", msg.Content)
	return nil
}

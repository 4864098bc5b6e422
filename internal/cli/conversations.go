package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lodgeline/lodgeline/internal/convo"
)

func newConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List conversations with unread counts",
		RunE:    runConversations,
	}
	return cmd
}

func runConversations(cmd *cobra.Command, args []string) error {
	sess, closeAll, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer closeAll()

	if err := sess.Refresh(cmd.Context()); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	conversations := sess.Conversations()
	if len(conversations) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No conversations.")
		return nil
	}
	printConversations(cmd, conversations, sess.GlobalUnreadCount())
	return nil
}

func printConversations(cmd *cobra.Command, conversations []convo.Conversation, totalUnread int) {
	out := cmd.OutOrStdout()
	for _, conv := range conversations {
		badge := "  "
		if conv.UnreadCount > 0 {
			badge = fmt.Sprintf("%2d", conv.UnreadCount)
		}
		name := conv.CounterpartyID
		if conv.Counterparty != nil && conv.Counterparty.Name != "" {
			name = conv.Counterparty.Name
		}
		preview := conv.LastMessage.Content
		if len(preview) > 48 {
			preview = preview[:45] + "..."
		}
		preview = strings.ReplaceAll(preview, "\n", " ")
		fmt.Fprintf(out, "[%s] %-24s %s  %s\n",
			badge, name, conv.LastMessage.CreatedAt.Local().Format(time.DateTime), preview)
	}
	fmt.Fprintf(out, "\n%d conversation(s), %d unread\n", len(conversations), totalUnread)
}

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <counterparty>",
		Short: "Mark a whole conversation as read",
		Args:  cobra.ExactArgs(1),
		RunE:  runRead,
	}
	cmd.Flags().String("message", "", "Mark only this message id")
	return cmd
}

func runRead(cmd *cobra.Command, args []string) error {
	sess, closeAll, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer closeAll()

	if err := sess.Refresh(cmd.Context()); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	if messageID, _ := cmd.Flags().GetString("message"); messageID != "" {
		sess.MarkMessageRead(cmd.Context(), messageID)
	} else {
		sess.MarkConversationRead(cmd.Context(), args[0])
	}

	// The remote call runs in the background; give it a beat to land
	// before the process exits.
	deadline := time.After(5 * time.Second)
	for sess.PendingReads() > 0 {
		select {
		case <-deadline:
			fmt.Fprintln(cmd.ErrOrStderr(), "mark-read not yet confirmed; it will be retried next run")
			return nil
		case <-time.After(100 * time.Millisecond):
			if err := sess.Refresh(cmd.Context()); err != nil {
				return fmt.Errorf("refresh: %w", err)
			}
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Marked read. %d unread remaining overall.\n", sess.GlobalUnreadCount())
	return nil
}

package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [counterparty]",
		Short: "Poll for updates and reprint conversations on change",
		Long: "watch starts the conversation-list poller (or, given a counterparty, " +
			"the faster single-thread poller) and prints the reconciled conversation " +
			"list after every successful pass. Ctrl+C stops.",
		Args: cobra.MaximumNArgs(1),
		RunE: runWatch,
	}
	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	sess, closeAll, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer closeAll()

	sess.OnUpdate(func() {
		printConversations(cmd, sess.Conversations(), sess.GlobalUnreadCount())
		fmt.Fprintln(cmd.OutOrStdout())
	})
	sess.OnError(func(err error) {
		fmt.Fprintf(cmd.ErrOrStderr(), "retryable: %v\n", err)
	})

	var stop func()
	if len(args) == 1 {
		handle := sess.StartThreadPolling(args[0])
		stop = handle.Stop
	} else {
		handle := sess.StartListPolling()
		stop = handle.Stop
	}
	defer stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return nil
}

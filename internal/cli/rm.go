package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <message-id>",
		Short: "Delete a message",
		Args:  cobra.ExactArgs(1),
		RunE:  runRm,
	}
	return cmd
}

func runRm(cmd *cobra.Command, args []string) error {
	sess, closeAll, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer closeAll()

	if err := sess.DeleteMessage(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}

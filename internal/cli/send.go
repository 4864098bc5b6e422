package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lodgeline/lodgeline/internal/message"
)

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <recipient> <content>",
		Short: "Send a message to a counterparty",
		Args:  cobra.ExactArgs(2),
		RunE:  runSend,
	}
	cmd.Flags().String("property", "", "Property id context")
	cmd.Flags().String("unit", "", "Unit id context")
	return cmd
}

func runSend(cmd *cobra.Command, args []string) error {
	sess, closeAll, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer closeAll()

	propertyID, _ := cmd.Flags().GetString("property")
	unitID, _ := cmd.Flags().GetString("unit")

	sent, err := sess.SendMessage(cmd.Context(), message.SendInput{
		RecipientID: args[0],
		Content:     args[1],
		PropertyID:  propertyID,
		UnitID:      unitID,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to %s\n", sent.ID, sent.RecipientID)
	return nil
}

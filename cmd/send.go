package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/guilhermegouw/relay/internal/client"
	"github.com/guilhermegouw/relay/internal/delivery"
	"github.com/guilhermegouw/relay/internal/message"
)

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send [flags] <message>...",
		Short: "Send a message and wait for the reply",
		Long: `Send a user message to a running relay server and poll until the
model has answered.

Without --session a new session is created and its id is printed so the
conversation can be continued.`,
		Example: `  relay send "What is 2+2?"
  relay send --session 3f2a... --model openai/gpt-4o "And times three?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSend,
	}
	cmd.Flags().StringP("session", "s", "", "Session id to continue")
	cmd.Flags().StringP("model", "m", "", "Model id (default from config)")
	cmd.Flags().Bool("no-wait", false, "Return after the message is stored")
	return cmd
}

func runSend(cmd *cobra.Command, args []string) error {
	c, cfg, err := newClient(cmd)
	if err != nil {
		return err
	}
	sessionID, _ := cmd.Flags().GetString("session") //nolint:errcheck // flag is registered
	model, _ := cmd.Flags().GetString("model")       //nolint:errcheck // flag is registered
	noWait, _ := cmd.Flags().GetBool("no-wait")      //nolint:errcheck // flag is registered
	if model == "" {
		model = cfg.LLM.DefaultModel
	}

	ctx := cmd.Context()
	if sessionID == "" {
		sessionID, err = c.NewSession(ctx, model)
		if err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
		cmd.PrintErrf("session %s\n", sessionID)
	}

	id, err := c.Send(ctx, client.SendRequest{
		SessionID: sessionID,
		Content:   strings.Join(args, " "),
		Model:     model,
		Delivery:  string(delivery.ModePoll),
	})
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	if noWait {
		cmd.Println(id)
		return nil
	}

	poller := delivery.Poller{Interval: delivery.DefaultPollInterval, Timeout: 2 * cfg.LLM.Timeout.Std()}
	reply, err := c.Wait(ctx, sessionID, id, poller)
	if err != nil {
		return fmt.Errorf("waiting for reply: %w", err)
	}
	if reply.State == message.StateFailed {
		return errors.New("the model could not answer this message")
	}
	cmd.Println(reply.Content)
	return nil
}

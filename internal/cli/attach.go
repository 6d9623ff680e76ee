package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/glesdbg/glesdbg/internal/config"
	"github.com/glesdbg/glesdbg/internal/wire"
	"github.com/glesdbg/glesdbg/pkg/client"
)

func newAttachCmd() *cobra.Command {
	var (
		addr        string
		skipPattern string
		capture     int32
		maxCalls    int
	)

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach to a target and drive its intercepted calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			var skip glob.Glob
			if skipPattern != "" {
				g, err := glob.Compile(skipPattern)
				if err != nil {
					return fmt.Errorf("compile --skip pattern: %w", err)
				}
				skip = g
			}

			c, err := client.Dial(cmd.Context(), addr)
			if err != nil {
				return err
			}
			defer c.Close()

			ack, err := c.Recv()
			if err != nil {
				return attachErr(fmt.Errorf("read handshake: %w", err))
			}
			if ack.Function != wire.FuncACK {
				return &ExitError{code: exitCodeProtocol, message: fmt.Sprintf("unexpected handshake frame %s", ack.Function)}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "attached to %s\n", addr)

			// A SETPROP can only be delivered while the target waits for a
			// directive; push the capture flag before the first CONTINUE.
			pushCapture := cmd.Flags().Changed("capture")

			seen := 0
			for maxCalls <= 0 || seen < maxCalls {
				msg, err := c.Recv()
				if err != nil {
					if errors.Is(err, io.EOF) {
						fmt.Fprintln(cmd.OutOrStdout(), "target disconnected")
						return nil
					}
					return attachErr(err)
				}

				printCall(cmd.OutOrStdout(), msg)
				if !msg.ExpectResponse {
					if msg.Type == wire.PhaseAfterCall {
						seen++
					}
					continue
				}

				switch msg.Type {
				case wire.PhaseBeforeCall:
					if pushCapture {
						if err := c.SetProp(wire.PropCapture, capture); err != nil {
							return err
						}
						pushCapture = false
					}
					if skip != nil && skip.Match(msg.Function.String()) {
						if err := c.Skip(); err != nil {
							return err
						}
						seen++
						continue
					}
					if err := c.Continue(); err != nil {
						return err
					}
				case wire.PhaseAfterCall:
					if err := c.Skip(); err != nil {
						return err
					}
					seen++
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", fmt.Sprintf("127.0.0.1:%d", config.DefaultPort), "Target debug address (host:port)")
	cmd.Flags().StringVar(&skipPattern, "skip", "", "Glob over wire call tags as printed (call_<N>); matching calls are skipped instead of continued")
	cmd.Flags().Int32Var(&capture, "capture", 0, "Set the target's capture flag before the first call")
	cmd.Flags().IntVar(&maxCalls, "max-calls", 0, "Detach after this many calls (0 = run until disconnect)")
	return cmd
}

// exitCodeProtocol distinguishes a malformed or out-of-spec target from
// ordinary attach failures, for scripts wrapping the command.
const exitCodeProtocol = 2

func attachErr(err error) error {
	if errors.Is(err, wire.ErrProtocol) {
		return &ExitError{code: exitCodeProtocol, message: err.Error()}
	}
	return err
}

func printCall(w io.Writer, m *wire.Message) {
	switch m.Type {
	case wire.PhaseBeforeCall:
		fmt.Fprintf(w, "ctx=%d  %s  before\n", m.ContextID, m.Function)
	case wire.PhaseAfterCall:
		if m.HasTime() {
			fmt.Fprintf(w, "ctx=%d  %s  after  %.3fms\n", m.ContextID, m.Function, m.TimeMS())
			return
		}
		fmt.Fprintf(w, "ctx=%d  %s  after\n", m.ContextID, m.Function)
	default:
		fmt.Fprintf(w, "ctx=%d  %s  %d\n", m.ContextID, m.Function, m.Type)
	}
}

package session

import (
	"context"
	"fmt"

	"github.com/rbright/nimbus/internal/ipc"
)

// Handle serves IPC commands for the session owner. Voice cycles started here
// outlive the request that triggered them.
func (c *Controller) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		status := c.Status()
		return ipc.Response{OK: true, State: string(status.State), Message: status.Label}
	case ipc.CommandToggle:
		if c.Capturing() {
			return c.requestStop()
		}
		if _, err := c.StartVoice(context.WithoutCancel(ctx)); err != nil {
			return ipc.Response{OK: false, State: string(c.State()), Error: err.Error()}
		}
		return ipc.Response{OK: true, State: string(c.State()), Message: "recording started"}
	case ipc.CommandStop:
		if !c.Capturing() {
			state := c.State()
			return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot stop from state %s", state)}
		}
		return c.requestStop()
	case ipc.CommandCancel:
		if err := c.CancelVoice(); err != nil {
			return ipc.Response{OK: false, State: string(c.State()), Error: err.Error()}
		}
		return ipc.Response{OK: true, State: string(c.State()), Message: "cancel requested"}
	case ipc.CommandAsk:
		return c.ask(ctx, req.Text)
	default:
		return ipc.Response{OK: false, State: string(c.State()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func (c *Controller) requestStop() ipc.Response {
	if err := c.StopVoice(); err != nil {
		return ipc.Response{OK: false, State: string(c.State()), Error: err.Error()}
	}
	return ipc.Response{OK: true, State: string(c.State()), Message: "stop requested"}
}

func (c *Controller) ask(ctx context.Context, text string) ipc.Response {
	outcome, err := c.SubmitText(ctx, text)
	if err != nil {
		return ipc.Response{OK: false, State: string(c.State()), Error: err.Error()}
	}
	reply, _ := outcome.Reply()
	if outcome.Err != nil {
		return ipc.Response{OK: false, State: string(c.State()), Message: reply, Error: outcome.Err.Error()}
	}
	return ipc.Response{OK: true, State: string(c.State()), Message: reply}
}

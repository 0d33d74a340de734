package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/rbright/nimbus/internal/backend"
	"github.com/rbright/nimbus/internal/config"
	"github.com/rbright/nimbus/internal/console"
	"github.com/rbright/nimbus/internal/indicator"
	"github.com/rbright/nimbus/internal/ipc"
	"github.com/rbright/nimbus/internal/output"
	"github.com/rbright/nimbus/internal/pipeline"
	"github.com/rbright/nimbus/internal/poll"
	"github.com/rbright/nimbus/internal/session"
)

const (
	acquireProbeTimeout = 180 * time.Millisecond
	acquireRetries      = 8
)

// components is one wired controller with its notifier.
type components struct {
	controller *session.Controller
	notifier   *indicator.Notifier
}

// newComponents builds the backend client, poller, capture, and indicator
// from config. statusOut receives terminal indicator lines; nil silences them.
func newComponents(cfg config.Config, logger *slog.Logger, statusOut io.Writer) (components, error) {
	client, err := backend.NewClient(backend.Options{
		BaseURL:        cfg.Backend.URL,
		HealthPath:     cfg.Backend.HealthPath,
		RequestTimeout: time.Duration(cfg.Backend.RequestTimeoutMS) * time.Millisecond,
		Logger:         logger,
	})
	if err != nil {
		return components{}, err
	}

	poller := poll.New(client, poll.Options{
		Interval:    time.Duration(cfg.Poll.IntervalMS) * time.Millisecond,
		MaxAttempts: cfg.Poll.MaxAttempts,
		Timeout:     time.Duration(cfg.Poll.TimeoutMS) * time.Millisecond,
		Logger:      logger,
	})

	notifier := indicator.New(cfg.Indicator, statusOut, logger)
	controller := session.NewController(session.Options{
		Logger:    logger,
		Capture:   pipeline.NewVoiceCapture(cfg, logger),
		Backend:   client,
		Poller:    poller,
		Indicator: notifier,
	})

	return components{controller: controller, notifier: notifier}, nil
}

// owner holds the session socket and serves remote commands for its lifetime.
type owner struct {
	socketPath string
	listener   net.Listener
	controller *session.Controller
	cancel     context.CancelFunc
	serveErr   chan error
}

func acquireOwner(ctx context.Context, socketPath string, controller *session.Controller) (*owner, error) {
	listener, err := ipc.Acquire(ctx, socketPath, ipc.AcquireOptions{
		ProbeTimeout: acquireProbeTimeout,
		Retries:      acquireRetries,
	})
	if err != nil {
		return nil, err
	}

	serverCtx, cancel := context.WithCancel(ctx)
	o := &owner{
		socketPath: socketPath,
		listener:   listener,
		controller: controller,
		cancel:     cancel,
		serveErr:   make(chan error, 1),
	}
	go func() {
		o.serveErr <- ipc.Serve(serverCtx, listener, controller)
	}()
	return o, nil
}

// awaitRemote keeps serving while cycles started over the socket run, so a
// remote toggle can still stop the recording it began. Once ctx ends any
// recording is cancelled instead.
func (o *owner) awaitRemote(ctx context.Context) {
	for {
		cycle := o.controller.Active()
		if cycle == nil {
			return
		}
		if _, err := cycle.Wait(ctx); err != nil {
			o.settle(cycle)
			return
		}
	}
}

// settle cancels a recording that can no longer be stopped remotely and
// waits for cycle to finish.
func (o *owner) settle(cycle *session.Cycle) {
	if o.controller.Capturing() {
		_ = o.controller.CancelVoice()
	}
	<-cycle.Done()
}

// close stops serving, removes the socket, and settles any cycle a late
// remote command started.
func (o *owner) close() error {
	o.cancel()
	err := <-o.serveErr
	_ = o.listener.Close()
	_ = os.Remove(o.socketPath)
	if cycle := o.controller.Active(); cycle != nil {
		o.settle(cycle)
	}
	return err
}

func (r Runner) commandToggle(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitFailure
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.Request{Command: ipc.CommandToggle}, forwardTimeout)
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return exitFailure
		}
		if resp.Message != "" {
			fmt.Fprintln(r.Stdout, resp.Message)
		}
		return exitOK
	}

	parts, err := newComponents(cfg, logger, r.Stderr)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitFailure
	}
	defer parts.notifier.Wait()

	own, err := acquireOwner(ctx, socketPath, parts.controller)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			return r.forwardOrFail(ctx, ipc.CommandToggle)
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitFailure
	}

	cycle, err := parts.controller.StartVoice(ctx)
	if err != nil {
		_ = own.close()
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitFailure
	}

	outcome, waitErr := cycle.Wait(context.WithoutCancel(ctx))
	own.awaitRemote(ctx)
	if serveErr := own.close(); serveErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serveErr)
		return exitFailure
	}
	if waitErr != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", waitErr)
		return exitFailure
	}
	return r.reportOutcome(outcome)
}

// commandChat runs the interactive REPL as the session owner.
func (r Runner) commandChat(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitFailure
	}

	parts, err := newComponents(cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitFailure
	}
	defer parts.notifier.Wait()

	own, err := acquireOwner(ctx, socketPath, parts.controller)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitFailure
	}

	stdin := r.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	clipboard := output.NewClipboard(cfg.Clipboard, logger)
	runErr := console.New(stdin, r.Stdout, parts.controller, logger, console.WithCopier(clipboard)).Run(ctx)

	if serveErr := own.close(); serveErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serveErr)
		return exitFailure
	}
	if runErr != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", runErr)
		return exitFailure
	}
	logger.Info("chat ended", "messages", parts.controller.Store().Len())
	return exitOK
}

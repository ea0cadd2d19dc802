package main

import (
	"context"
	"fmt"
	"io"

	"github.com/loykin/tally/pkg/client"
)

func newClient(f RemoteFlags) *client.Client {
	return client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout})
}

// reachable returns a client for a running daemon, or an error telling the
// user to start one.
func reachable(ctx context.Context, f RemoteFlags) (*client.Client, error) {
	c := newClient(f)
	if !c.IsReachable(ctx) {
		return nil, fmt.Errorf("daemon not reachable at %s - start it first with 'tally serve'", f.APIUrl)
	}
	return c, nil
}

func cmdStatus(ctx context.Context, f RemoteFlags, out io.Writer) error {
	c, err := reachable(ctx, f)
	if err != nil {
		return err
	}
	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, st)
}

func cmdPoll(ctx context.Context, f RemoteFlags, out io.Writer) error {
	c, err := reachable(ctx, f)
	if err != nil {
		return err
	}
	if err := c.Poll(ctx); err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, "Poll requested")
	return err
}

func cmdTarget(ctx context.Context, f RemoteFlags, path string, out io.Writer) error {
	c, err := reachable(ctx, f)
	if err != nil {
		return err
	}
	st, err := c.SetTarget(ctx, path)
	if err != nil {
		if client.IsNotFound(err) {
			return fmt.Errorf("executable not found on the daemon host: %s", path)
		}
		return err
	}
	return printJSON(out, st)
}

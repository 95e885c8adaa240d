package sm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/nxipc/internal/kernel"
	"github.com/danmuck/nxipc/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

const PortName = "sm:"

const (
	CmdRegisterClient    uint32 = 0
	CmdGetServiceHandle  uint32 = 1
	CmdRegisterService   uint32 = 2
	CmdUnregisterService uint32 = 3
	CmdDetachClient      uint32 = 4
)

var ErrMissingHandle = errors.New("sm: reply carries no handle")

// Client is a registered session with the service manager.
type Client struct {
	sys  kernel.System
	svc  *session.Service
	opts []session.Option
}

// Connect opens "sm:" and registers the process. While the port does not
// exist yet the connect is retried with the configured backoff until ctx
// ends. opts also apply to every session GetService opens.
func Connect(ctx context.Context, sys kernel.System, opts ...session.Option) (*Client, error) {
	cfg := session.ResolveConfig(opts...)
	var h kernel.Handle
	err := session.Retry(ctx, cfg.Backoff, nil, isPortMissing, func(attempt int) error {
		var err error
		h, err = sys.ConnectToNamedPort(PortName)
		if err != nil {
			log.Debug().Err(err).Int("attempt", attempt).Msg("sm port not ready")
			return kernel.TransportError("connect to named port", kernel.InvalidHandle, err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sm: connect: %w", err)
	}

	c := &Client{sys: sys, svc: session.New(sys, h, opts...), opts: opts}
	if err := c.registerClient(); err != nil {
		c.svc.Close()
		return nil, fmt.Errorf("sm: register client: %w", err)
	}
	return c, nil
}

func isPortMissing(err error) bool {
	return errors.Is(err, kernel.ErrNotFound)
}

// Service exposes the underlying session.
func (c *Client) Service() *session.Service {
	return c.svc
}

func (c *Client) tipc() bool {
	return c.svc.Dialect() == session.DialectTIPC
}

// pidCall builds the commands that carry the caller's pid; on CMIF they
// also carry a reserved u64.
func (c *Client) pidCall(id uint32) *session.Call {
	call := c.svc.Dispatch(id).SendPID()
	if !c.tipc() {
		call.In(make([]byte, 8))
	}
	return call
}

func (c *Client) registerClient() error {
	_, err := c.pidCall(CmdRegisterClient).Send()
	return err
}

// GetServiceHandle returns a fresh session handle for name. The caller owns
// it.
func (c *Client) GetServiceHandle(name ServiceName) (kernel.Handle, error) {
	b := name.Bytes()
	reply, err := c.svc.Dispatch(CmdGetServiceHandle).In(b[:]).Send()
	if err != nil {
		return kernel.InvalidHandle, fmt.Errorf("sm: get service %s: %w", name, err)
	}
	if len(reply.MoveHandles) == 0 {
		return kernel.InvalidHandle, fmt.Errorf("sm: get service %s: %w", name, ErrMissingHandle)
	}
	return reply.MoveHandles[0], nil
}

// GetService wraps GetServiceHandle in an owned Service using the client's
// options followed by opts.
func (c *Client) GetService(name ServiceName, opts ...session.Option) (*session.Service, error) {
	h, err := c.GetServiceHandle(name)
	if err != nil {
		return nil, err
	}
	all := append(append([]session.Option(nil), c.opts...), opts...)
	return session.New(c.sys, h, all...), nil
}

// RegisterService publishes name and returns the server port handle.
func (c *Client) RegisterService(name ServiceName, maxSessions int32, isLight bool) (kernel.Handle, error) {
	in := make([]byte, 16)
	binary.LittleEndian.PutUint64(in, uint64(name))
	light := byte(0)
	if isLight {
		light = 1
	}
	if c.tipc() {
		binary.LittleEndian.PutUint32(in[8:], uint32(maxSessions))
		in[12] = light
	} else {
		in[8] = light
		binary.LittleEndian.PutUint32(in[12:], uint32(maxSessions))
	}
	reply, err := c.svc.Dispatch(CmdRegisterService).In(in).Send()
	if err != nil {
		return kernel.InvalidHandle, fmt.Errorf("sm: register service %s: %w", name, err)
	}
	if len(reply.MoveHandles) == 0 {
		return kernel.InvalidHandle, fmt.Errorf("sm: register service %s: %w", name, ErrMissingHandle)
	}
	return reply.MoveHandles[0], nil
}

func (c *Client) UnregisterService(name ServiceName) error {
	b := name.Bytes()
	if _, err := c.svc.Dispatch(CmdUnregisterService).In(b[:]).Send(); err != nil {
		return fmt.Errorf("sm: unregister service %s: %w", name, err)
	}
	return nil
}

// DetachClient drops the client registration. Only firmware 11.0.x
// implements it.
func (c *Client) DetachClient() error {
	_, err := c.pidCall(CmdDetachClient).Send()
	return err
}

func (c *Client) Close() error {
	return c.svc.Close()
}

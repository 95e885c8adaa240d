// Package setsys is the client for the system settings service.
package setsys

import (
	"fmt"

	"github.com/danmuck/nxipc/internal/protocol/session"
	"github.com/danmuck/nxipc/internal/services/sm"
)

var ServiceName = sm.MustServiceName("set:sys")

const (
	// CmdGetFirmwareVersion masks the revision fields.
	CmdGetFirmwareVersion  uint32 = 3
	CmdGetFirmwareVersion2 uint32 = 4
)

type Client struct {
	svc *session.Service
}

func Open(c *sm.Client, opts ...session.Option) (*Client, error) {
	svc, err := c.GetService(ServiceName, opts...)
	if err != nil {
		return nil, err
	}
	return New(svc), nil
}

func New(svc *session.Service) *Client {
	return &Client{svc: svc}
}

func (c *Client) Service() *session.Service {
	return c.svc
}

func (c *Client) GetFirmwareVersion() (FirmwareVersion, error) {
	return c.firmwareVersion(CmdGetFirmwareVersion2)
}

// GetFirmwareVersionLegacy uses the pre-3.0.0 command.
func (c *Client) GetFirmwareVersionLegacy() (FirmwareVersion, error) {
	return c.firmwareVersion(CmdGetFirmwareVersion)
}

// firmwareVersion receives the block through a fixed-size out pointer on
// CMIF and through a mapped out buffer on TIPC.
func (c *Client) firmwareVersion(cmd uint32) (FirmwareVersion, error) {
	out := make([]byte, FirmwareVersionSize)
	attr := session.BufferOut | session.BufferHipcPointer | session.BufferFixedSize
	if c.svc.Dialect() == session.DialectTIPC {
		attr = session.BufferOut | session.BufferHipcMapAlias
	}
	if _, err := c.svc.Dispatch(cmd).Buffer(out, attr).Send(); err != nil {
		return FirmwareVersion{}, fmt.Errorf("setsys: get firmware version: %w", err)
	}
	return DecodeFirmwareVersion(out)
}

func (c *Client) Close() error {
	return c.svc.Close()
}

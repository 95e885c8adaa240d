package hostsim

import (
	"errors"
	"testing"

	"github.com/danmuck/nxipc/internal/kernel/loopback"
	"github.com/danmuck/nxipc/internal/protocol/session"
	"github.com/danmuck/nxipc/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

func TestBootRegistersPorts(t *testing.T) {
	testlog.Start(t)
	k := loopback.New(zerolog.Nop())
	h, err := Boot(k, DefaultConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	got := h.Services()
	if len(got) != 2 || got[0] != "apm" || got[1] != "set:sys" {
		t.Fatalf("expected apm and set:sys, got %v", got)
	}
	for _, port := range []string{"sm:", "apm", "set:sys"} {
		if _, err := k.ConnectToNamedPort(port); err != nil {
			t.Fatalf("connect %s: %v", port, err)
		}
	}
	if _, err := Boot(k, DefaultConfig(), zerolog.Nop()); !errors.Is(err, loopback.ErrPortExists) {
		t.Fatalf("expected second boot to collide, got %v", err)
	}
}

func TestClientOptionsFollowDialect(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.Dialect = loopback.TIPC
	h, err := Boot(loopback.New(zerolog.Nop()), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	if got := session.ResolveConfig(h.ClientOptions()...).Dialect; got != session.DialectTIPC {
		t.Fatalf("expected tipc, got %v", got)
	}
}

func TestSMRejectsUnregisteredClient(t *testing.T) {
	testlog.Start(t)
	h, err := Boot(loopback.New(zerolog.Nop()), DefaultConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	s := &smSession{host: h}
	req := &loopback.Request{Command: 1, Data: make([]byte, 8)}
	if err := s.HandleRequest(req, &loopback.Response{}); err == nil {
		t.Fatalf("expected unregistered client to be refused")
	}
}

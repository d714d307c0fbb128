// Copyright 2017 Microsoft. All rights reserved.
// MIT License

// Package server runs the daemon's single-threaded event loop: a unix
// datagram control socket drives RECONF/CHANGED/STOP ticks against the
// membership poller, mirroring Server.run.
package server

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/chkp-dmorris/Azure-extended-zone/internal/log"
	"github.com/chkp-dmorris/Azure-extended-zone/internal/processlock"
	"github.com/chkp-dmorris/Azure-extended-zone/pkg/cloud"
	"github.com/chkp-dmorris/Azure-extended-zone/pkg/config"
)

const (
	tagReconf  = "RECONF"
	tagChanged = "CHANGED"
	tagStop    = "STOP"

	idleTimeout   = 5 * time.Second
	datagramLimit = 4096
)

// Reloader re-reads configuration, returning the refreshed desired state
// and a cloud client built from its (possibly rotated) credentials.
// Implemented by *config.Loader.
type Reloader interface {
	Load(ctx context.Context) (*config.Config, cloud.Client, error)
}

// Poller runs one membership-probe tick against cfg. Implemented by
// *membership.Poller.
type Poller interface {
	Poll(ctx context.Context, cfg *config.Config)
}

// ClientSetter swaps the cloud client a running engine reconciles against,
// so RECONF can rotate credentials without restarting the process.
// Implemented by *engine.Engine.
type ClientSetter interface {
	SetClient(c cloud.Client)
}

// Server owns the control socket, the pidfile, and the current config.
type Server struct {
	SocketPath string
	PIDPath    string

	Reloader Reloader
	Poller   Poller
	Engine   ClientSetter
	Log      *log.Logger

	cfg  *config.Config
	conn *net.UnixConn
	lock processlock.Interface
}

// New returns a Server bound to socketPath/pidPath, not yet listening.
func New(socketPath, pidPath string, reloader Reloader, poller Poller, engine ClientSetter, logger *log.Logger) *Server {
	return &Server{SocketPath: socketPath, PIDPath: pidPath, Reloader: reloader, Poller: poller, Engine: engine, Log: logger}
}

// Run opens the control socket and pidfile, then loops ticks until STOP is
// received or ctx is cancelled between ticks. cfg is the already-loaded
// initial configuration (main's startup retry loop owns the first load).
func (s *Server) Run(ctx context.Context, cfg *config.Config) error {
	s.cfg = cfg

	os.Remove(s.SocketPath) //nolint:errcheck // best-effort: stale socket from a prior crash

	addr, err := net.ResolveUnixAddr("unixgram", s.SocketPath)
	if err != nil {
		return pkgerrors.Wrap(err, "resolving control socket address")
	}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return pkgerrors.Wrap(err, "binding control socket")
	}
	s.conn = conn
	defer func() {
		conn.Close()
		os.Remove(s.SocketPath) //nolint:errcheck // best-effort on shutdown
	}()

	lock, err := processlock.NewFileLock(s.PIDPath)
	if err != nil {
		return pkgerrors.Wrap(err, "creating pid lock")
	}
	s.lock = lock
	// Lock blocks until any prior instance exits, stamping PIDPath with our
	// own PID once acquired, exactly as a bare "open/write" pidfile would,
	// but also holding the two instances apart instead of letting them both
	// run against the same cluster.
	if err := s.lock.Lock(); err != nil {
		return pkgerrors.Wrap(err, "acquiring pid lock")
	}
	defer func() {
		s.lock.Unlock() //nolint:errcheck // best-effort on shutdown
		os.Remove(s.PIDPath) //nolint:errcheck // best-effort on shutdown
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		tags, stop := s.drainOneTick()

		if tags[tagReconf] {
			s.handleReconf(ctx)
		}
		if tags[tagChanged] {
			s.handleChanged(ctx)
		}
		if stop {
			return nil
		}
	}
}

// drainOneTick waits up to idleTimeout for the first datagram (mirroring the
// select() call guarding the socket), then drains every further datagram
// already queued without waiting again. The drain always ends by blocking
// (or immediately failing) until the read would block, at which point
// CHANGED is unconditionally synthesized for this tick — matching the
// reference daemon's recv-until-EAGAIN loop, which adds 'CHANGED' on every
// EAGAIN regardless of what was already collected.
func (s *Server) drainOneTick() (map[string]bool, bool) {
	tags := make(map[string]bool)
	stop := false
	buf := make([]byte, datagramLimit)

	for first := true; ; first = false {
		deadline := time.Now()
		if first {
			deadline = deadline.Add(idleTimeout)
		}
		if err := s.conn.SetReadDeadline(deadline); err != nil {
			s.logf("setting read deadline: %v", err)
		}

		n, _, err := s.conn.ReadFromUnix(buf)
		if err != nil {
			if isTimeout(err) {
				tags[tagChanged] = true
			} else {
				s.logf("reading control socket: %v", err)
			}
			return tags, stop
		}
		recordTag(tags, &stop, string(buf[:n]))
	}
}

func recordTag(tags map[string]bool, stop *bool, tag string) {
	switch tag {
	case tagReconf, tagChanged:
		tags[tag] = true
	case tagStop:
		*stop = true
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (s *Server) handleReconf(ctx context.Context) {
	cfg, client, err := s.Reloader.Load(ctx)
	if err != nil {
		s.logf("reload failed, keeping previous configuration: %v", err)
		return
	}
	cfg.Todo = s.cfg.Todo
	s.cfg = cfg
	if s.Engine != nil {
		s.Engine.SetClient(client)
	}
	s.Poller.Poll(ctx, s.cfg)
}

func (s *Server) handleChanged(ctx context.Context) {
	s.Poller.Poll(ctx, s.cfg)
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.Log == nil {
		return
	}
	s.Log.Errorf(format, args...)
}

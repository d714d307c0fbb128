// Copyright 2017 Microsoft. All rights reserved.
// MIT License

// Package membership polls the local cluster member's state via the
// external "cphaprob stat" probe and drives SetLocalActive on transition
// into an active role, mirroring poll().
package membership

import (
	"context"
	"regexp"
	"runtime/debug"
	"strings"

	"github.com/chkp-dmorris/Azure-extended-zone/internal/log"
	"github.com/chkp-dmorris/Azure-extended-zone/internal/platform"
	"github.com/chkp-dmorris/Azure-extended-zone/pkg/config"
	"github.com/chkp-dmorris/Azure-extended-zone/pkg/status"
)

// stateLine matches the probe's "(local)" row, capturing the member's
// address and its state word, multi-line and dot-all so the probe's
// trailing rows don't prevent the match.
var stateLine = regexp.MustCompile(`(?ms)^.*\(local\)\s*([0-9.]*)\s*[0-9.%]*\s*([a-zA-Z]*).*$`)

// Activator runs one reconciliation tick once this member is observed
// active; it is satisfied by *engine.Engine.
type Activator interface {
	SetLocalActive(ctx context.Context, cfg *config.Config) error
}

// Poller shells out to the membership probe once per invocation and
// dispatches to Engine on an active transition.
type Poller struct {
	ProbeCommand string
	ProbeArgs    []string
	Engine       Activator
	Status       *status.Publisher
	Log          *log.Logger
}

// New returns a Poller invoking "cphaprob stat" and dispatching to engine.
func New(engine Activator, statusPublisher *status.Publisher, logger *log.Logger) *Poller {
	return &Poller{
		ProbeCommand: "cphaprob",
		ProbeArgs:    []string{"stat"},
		Engine:       engine,
		Status:       statusPublisher,
		Log:          logger,
	}
}

// Poll implements §4.10: any failure, including a panic raised deep inside
// Engine.SetLocalActive, is caught, logged with a stack trace, and
// swallowed — Poll must never crash the event loop.
func (p *Poller) Poll(ctx context.Context, cfg *config.Config) {
	defer func() {
		if r := recover(); r != nil {
			p.logf("poll: recovered from panic: %v\n%s", r, debug.Stack())
		}
	}()

	if err := p.poll(ctx, cfg); err != nil {
		p.logf("poll: %v\n%s", err, debug.Stack())
	}
}

func (p *Poller) poll(ctx context.Context, cfg *config.Config) error {
	out, err := platform.ExecuteCommand(p.ProbeCommand, p.ProbeArgs...)
	if err != nil {
		return err
	}

	m := stateLine.FindStringSubmatch(out)
	state := ""
	if m != nil {
		state = strings.ToLower(m[2])
	}

	switch state {
	case "active", "active attention":
		return p.Engine.SetLocalActive(ctx, cfg)
	default:
		if p.Status != nil {
			return p.Status.Write(status.NotStarted)
		}
		return nil
	}
}

func (p *Poller) logf(format string, args ...interface{}) {
	if p.Log == nil {
		return
	}
	p.Log.Errorf(format, args...)
}

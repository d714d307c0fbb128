// Copyright 2017 Microsoft. All rights reserved.
// MIT License

// Package engine holds the orchestrator that dispatches a reload-or-poll
// tick across the per-resource-class reconcilers, per the template's
// topology, and tracks the sticky work-remains flag across ticks.
package engine

import (
	"context"

	"github.com/chkp-dmorris/Azure-extended-zone/pkg/cloud"
	"github.com/chkp-dmorris/Azure-extended-zone/pkg/config"
	"github.com/chkp-dmorris/Azure-extended-zone/pkg/reconcile"
	"github.com/chkp-dmorris/Azure-extended-zone/pkg/status"
)

// Engine dispatches SetLocalActive ticks against one reconcile.Deps and
// publishes the resulting status transition.
type Engine struct {
	Deps   reconcile.Deps
	Status *status.Publisher
}

// New returns an Engine ready to run ticks.
func New(deps reconcile.Deps, statusPublisher *status.Publisher) *Engine {
	return &Engine{Deps: deps, Status: statusPublisher}
}

// SetClient swaps the cloud client reconciliation issues GET/PUT calls
// against, letting a RECONF tick rotate credentials without restarting.
func (e *Engine) SetClient(c cloud.Client) {
	e.Deps.Client = c
}

// SetLocalActive implements §4.8: dispatches by templateName, OR-combines
// every invoked reconciler's work-remains flag into cfg.Todo, and publishes
// the DONE/IN_PROGRESS status transition.
func (e *Engine) SetLocalActive(ctx context.Context, cfg *config.Config) error {
	todo := false

	track := func(workRemains bool, err error) error {
		if err != nil {
			return err
		}
		if workRemains {
			todo = true
		}
		return nil
	}

	switch cfg.TemplateName {
	case "ha", "ha_terraform":
		if err := track(reconcile.VIPs(ctx, e.Deps, cfg)); err != nil {
			return err
		}
	default:
		if err := track(reconcile.RouteTables(ctx, e.Deps, cfg)); err != nil {
			return err
		}
		if cfg.HasClusterInterfaces() {
			if err := track(reconcile.VIPs(ctx, e.Deps, cfg)); err != nil {
				return err
			}
			if err := track(reconcile.NATRules(ctx, e.Deps, cfg)); err != nil {
				return err
			}
		} else if !cfg.IsStackProfile() {
			if err := track(reconcile.PublicIP(ctx, e.Deps, cfg)); err != nil {
				return err
			}
		}
	}

	cfg.Todo = todo

	if e.Status == nil {
		return nil
	}
	if todo {
		return e.Status.Write(status.InProgress)
	}
	return e.Status.Write(status.Done)
}

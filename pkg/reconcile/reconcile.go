// Copyright 2017 Microsoft. All rights reserved.
// MIT License

// Package reconcile holds the per-resource-class convergence logic: one
// function per resource kind, each comparing configured desired state
// against freshly observed cloud state and emitting at most one mutating
// PUT per resource per call, per the peer-first-then-self discipline.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/chkp-dmorris/Azure-extended-zone/internal/log"
	"github.com/chkp-dmorris/Azure-extended-zone/pkg/cloud"
)

// Deps bundles the collaborators every reconciler needs.
type Deps struct {
	Client         cloud.Client
	TextLog        *log.Logger
	Structured     *zap.Logger
	SafePutOptions cloud.SafePutOptions
}

// ReadyState is the provisioning-gate result of §4.1.
type ReadyState int

const (
	StateReady ReadyState = iota
	StatePending
	StateFailed
)

type provisioningStated interface {
	ProvisioningState() string
}

// Ready reads the resource's provisioningState. On Failed it issues a
// self-PUT (via SafePut) to nudge the cloud into retrying the last
// transition and returns StateFailed; any other non-Succeeded value
// returns StatePending. Callers treat both as "not ready, bail this tick".
func Ready(ctx context.Context, deps Deps, resourceID string, body provisioningStated) (ReadyState, error) {
	switch body.ProvisioningState() {
	case "Succeeded":
		return StateReady, nil
	case "Failed":
		raw, err := json.Marshal(body)
		if err != nil {
			return StateFailed, pkgerrors.Wrap(err, "encoding resource for reset")
		}
		var asMap map[string]interface{}
		if err := json.Unmarshal(raw, &asMap); err != nil {
			return StateFailed, pkgerrors.Wrap(err, "encoding resource for reset")
		}
		if _, err := cloud.SafePut(ctx, deps.Client, resourceID, asMap, "resource reset", deps.TextLog, deps.Structured, deps.SafePutOptions); err != nil {
			return StateFailed, err
		}
		return StateFailed, nil
	default:
		return StatePending, nil
	}
}

// safePut marshals v, routes it through cloud.SafePut, and decodes the
// result back into a fresh *T. Used by every reconciler instead of calling
// deps.Client.Put directly, so the edge-zone fallback always applies.
func safePut[T any](ctx context.Context, deps Deps, resourceID string, v *T, description string) (*T, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "encoding %s", description)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, pkgerrors.Wrapf(err, "encoding %s", description)
	}

	result, err := cloud.SafePut(ctx, deps.Client, resourceID, body, description, deps.TextLog, deps.Structured, deps.SafePutOptions)
	if err != nil {
		return nil, err
	}

	resultRaw, err := json.Marshal(result)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "decoding %s response", description)
	}
	var out T
	if err := json.Unmarshal(resultRaw, &out); err != nil {
		return nil, pkgerrors.Wrapf(err, "decoding %s response", description)
	}
	return &out, nil
}

// errInterfaceDone is the Go idiom standing in for original_source's
// StopIteration-as-control-flow: returned to end one interface's pass once a
// tick's single PUT for that interface has been issued (or a NIC is not ready
// yet). VIPs then stops its per-interface loop only in serial mode.
var errInterfaceDone = errors.New("interface reconciliation pass complete for this tick")

// primaryNICRef resolves the primary entry of a VM's networkProfile list:
// the sole entry if there is only one, else the one flagged primary, else
// (matching get_vm_primary_nic's fallthrough) the first entry.
func primaryNICRef(refs []cloud.NICReference) cloud.NICReference {
	if len(refs) == 1 {
		return refs[0]
	}
	for _, r := range refs {
		if r.Properties.Primary {
			return r
		}
	}
	return refs[0]
}

func primaryNIC(ctx context.Context, deps Deps, vm *cloud.VirtualMachine) (*cloud.NetworkInterface, error) {
	ref := primaryNICRef(vm.Properties.NetworkProfile.NetworkInterfaces)
	return cloud.GetJSON[cloud.NetworkInterface](ctx, deps.Client, ref.ID)
}

// listAllNICs fetches every NIC in the resource group, keyed by
// lower-cased id, mirroring get_vm_nics' all_nics map.
func listAllNICs(ctx context.Context, deps Deps, baseID string) (map[string]cloud.NetworkInterface, error) {
	nics, err := cloud.GetList[cloud.NetworkInterface](ctx, deps.Client, baseID+"microsoft.network/networkinterfaces")
	if err != nil {
		return nil, err
	}
	result := make(map[string]cloud.NetworkInterface, len(nics))
	for _, n := range nics {
		result[strings.ToLower(n.ID)] = n
	}
	return result, nil
}

func vmNICs(vm *cloud.VirtualMachine, allNICs map[string]cloud.NetworkInterface) []cloud.NetworkInterface {
	var list []cloud.NetworkInterface
	for _, ref := range vm.Properties.NetworkProfile.NetworkInterfaces {
		if nic, ok := allNICs[strings.ToLower(ref.ID)]; ok {
			list = append(list, nic)
		}
	}
	return list
}

func nicBySuffix(nics []cloud.NetworkInterface, suffix string) (*cloud.NetworkInterface, error) {
	for i := range nics {
		if strings.HasSuffix(nics[i].Name, suffix) {
			return &nics[i], nil
		}
	}
	return nil, pkgerrors.Errorf("cannot find the %q interface", suffix)
}

func clusterIPIndex(nic *cloud.NetworkInterface, name string) int {
	for i, ipc := range nic.Properties.IPConfigurations {
		if strings.EqualFold(ipc.Name, name) {
			return i
		}
	}
	return -1
}

func lastSegment(resourceID string) string {
	parts := strings.Split(resourceID, "/")
	return parts[len(parts)-1]
}

func ruleSet(rules []cloud.SubResource) map[string]struct{} {
	set := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		set[strings.ToLower(r.ID)] = struct{}{}
	}
	return set
}

func isSubset(a, b map[string]struct{}) bool {
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func intersects(a, b map[string]struct{}) bool {
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

func union(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

func toSubResources(set map[string]struct{}) []cloud.SubResource {
	out := make([]cloud.SubResource, 0, len(set))
	for id := range set {
		out = append(out, cloud.SubResource{ID: id})
	}
	return out
}

// filterRules keeps entries whose last path segment matches prefix iff
// keep is true, else keeps entries that do NOT match.
func filterRules(rules []cloud.SubResource, prefix string, caseInsensitive, keep bool) []cloud.SubResource {
	var out []cloud.SubResource
	for _, r := range rules {
		seg := lastSegment(r.ID)
		match := strings.HasPrefix(seg, prefix)
		if caseInsensitive {
			match = strings.HasPrefix(strings.ToLower(seg), strings.ToLower(prefix))
		}
		if match == keep {
			out = append(out, r)
		}
	}
	return out
}

func indexOf(list []string, v string) int {
	for i, item := range list {
		if item == v {
			return i
		}
	}
	return -1
}

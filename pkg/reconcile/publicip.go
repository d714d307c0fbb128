package reconcile

import (
	"context"
	"errors"
	"strings"

	"github.com/chkp-dmorris/Azure-extended-zone/pkg/cloud"
	"github.com/chkp-dmorris/Azure-extended-zone/pkg/config"
)

// PublicIP implements §4.6 (set_public_address): ensures the cluster public
// IP and every non-checkpoint-prefixed NAT rule are attached to the local
// primary NIC and detached from the peer's.
func PublicIP(ctx context.Context, deps Deps, cfg *config.Config) (bool, error) {
	nonCPRules := make(map[string]struct{})
	if cfg.LBName != "" {
		lb, err := cloud.GetJSON[cloud.LoadBalancer](ctx, deps.Client, cfg.LoadBalancerResourceID())
		if err != nil {
			if !errors.Is(err, cloud.ErrNotFound) {
				return false, err
			}
		} else {
			for _, r := range lb.Properties.InboundNatRules {
				if !strings.HasPrefix(r.Name, "checkpoint-") {
					nonCPRules[strings.ToLower(r.ID)] = struct{}{}
				}
			}
		}
	}

	me, err := cloud.GetJSON[cloud.VirtualMachine](ctx, deps.Client, cfg.VMResourceID(cfg.Hostname))
	if err != nil {
		return false, err
	}
	peer, err := cloud.GetJSON[cloud.VirtualMachine](ctx, deps.Client, cfg.VMResourceID(cfg.PeerName))
	if err != nil {
		return false, err
	}

	myNIC, err := primaryNIC(ctx, deps, me)
	if err != nil {
		return false, err
	}
	state, err := Ready(ctx, deps, myNIC.ID, myNIC)
	if err != nil {
		return false, err
	}
	if state != StateReady {
		return true, nil
	}
	myIPConf := &myNIC.Properties.IPConfigurations[0]
	myRules := ruleSet(myIPConf.Properties.LoadBalancerInboundNatRules)

	peerNIC, err := primaryNIC(ctx, deps, peer)
	if err != nil {
		return false, err
	}
	state, err = Ready(ctx, deps, peerNIC.ID, peerNIC)
	if err != nil {
		return false, err
	}
	if state != StateReady {
		return true, nil
	}
	peerIPConf := &peerNIC.Properties.IPConfigurations[0]
	peerRules := ruleSet(peerIPConf.Properties.LoadBalancerInboundNatRules)

	pubID := cfg.PublicIPResourceID()
	publicIP, err := cloud.GetJSON[cloud.PublicIPAddress](ctx, deps.Client, pubID)
	if err != nil {
		if !errors.Is(err, cloud.ErrNotFound) {
			return false, err
		}
		publicIP = nil
	}

	// §9 DESIGN NOTES: "no cluster public IP configured" is treated as
	// equivalent to "my NIC already has it" for this half of the guard,
	// preserved as-is.
	if (publicIP == nil || myIPConf.Properties.PublicIPAddress != nil) && isSubset(nonCPRules, myRules) {
		return false, nil
	}

	if peerIPConf.Properties.PublicIPAddress != nil || intersects(nonCPRules, peerRules) {
		peerIPConf.Properties.PublicIPAddress = nil
		peerIPConf.Properties.LoadBalancerInboundNatRules = filterRules(
			peerIPConf.Properties.LoadBalancerInboundNatRules, "checkpoint-", false, true)
		if _, err := safePut(ctx, deps, peerNIC.ID, peerNIC, "peer NIC public IP disassociation"); err != nil {
			return false, err
		}
		return true, nil
	}

	if publicIP != nil {
		myIPConf.Properties.PublicIPAddress = &cloud.SubResource{ID: pubID}
	}
	myIPConf.Properties.LoadBalancerInboundNatRules = toSubResources(union(myRules, nonCPRules))
	if _, err := safePut(ctx, deps, myNIC.ID, myNIC, "my NIC public IP association"); err != nil {
		return false, err
	}
	return true, nil
}

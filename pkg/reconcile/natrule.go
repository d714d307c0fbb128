package reconcile

import (
	"context"
	"errors"
	"strings"

	"github.com/chkp-dmorris/Azure-extended-zone/pkg/cloud"
	"github.com/chkp-dmorris/Azure-extended-zone/pkg/config"
)

// NATRules implements §4.5 (set_lb_nat_rules): ensures every load-balancer
// inbound NAT rule named "cluster-vip*" is referenced by the local primary
// NIC and by no peer NIC.
func NATRules(ctx context.Context, deps Deps, cfg *config.Config) (bool, error) {
	if cfg.LBName == "" {
		return false, nil
	}

	lb, err := cloud.GetJSON[cloud.LoadBalancer](ctx, deps.Client, cfg.LoadBalancerResourceID())
	if err != nil {
		if errors.Is(err, cloud.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	targetRules := make(map[string]struct{})
	for _, r := range lb.Properties.InboundNatRules {
		if strings.HasPrefix(strings.ToLower(r.Name), "cluster-vip") {
			targetRules[strings.ToLower(r.ID)] = struct{}{}
		}
	}
	if len(targetRules) == 0 {
		return false, nil
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

	if isSubset(targetRules, myRules) {
		return false, nil
	}

	if intersects(targetRules, peerRules) {
		peerIPConf.Properties.LoadBalancerInboundNatRules = filterRules(
			peerIPConf.Properties.LoadBalancerInboundNatRules, "cluster-vip", true, false)
		if _, err := safePut(ctx, deps, peerNIC.ID, peerNIC, "peer NIC disassociation"); err != nil {
			return false, err
		}
		return true, nil
	}

	myIPConf.Properties.LoadBalancerInboundNatRules = toSubResources(union(myRules, targetRules))
	if _, err := safePut(ctx, deps, myNIC.ID, myNIC, "my NIC association"); err != nil {
		return false, err
	}
	return true, nil
}

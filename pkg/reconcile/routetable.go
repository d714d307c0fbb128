package reconcile

import (
	"context"
	"errors"
	"strings"

	"github.com/chkp-dmorris/Azure-extended-zone/pkg/cloud"
	"github.com/chkp-dmorris/Azure-extended-zone/pkg/config"
)

// RouteTables implements §4.7 (set_routing_tables): rewrites every
// VirtualAppliance route currently pointed at a peer sync address to point
// at the corresponding local sync address, across the local VNet's subnets
// and any Connected-peered VNet's subnets.
func RouteTables(ctx context.Context, deps Deps, cfg *config.Config) (bool, error) {
	ids, err := routeTableIDs(ctx, deps, cfg)
	if err != nil {
		return false, err
	}

	todo := false
	for id := range ids {
		workRemains, err := reconcileOneRouteTable(ctx, deps, cfg, id)
		if err != nil {
			var reqErr *cloud.RequestError
			if errors.As(err, &reqErr) && (reqErr.Code == 401 || reqErr.Code == 403) {
				if deps.TextLog != nil {
					deps.TextLog.Printf("route table %s: access denied, skipping", id)
				}
				continue
			}
			return false, err
		}
		if workRemains {
			todo = true
		}
	}
	return todo, nil
}

func reconcileOneRouteTable(ctx context.Context, deps Deps, cfg *config.Config, id string) (bool, error) {
	rt, err := cloud.GetJSON[cloud.RouteTable](ctx, deps.Client, id)
	if err != nil {
		return false, err
	}
	state, err := Ready(ctx, deps, rt.ID, rt)
	if err != nil {
		return false, err
	}
	if state != StateReady {
		return true, nil
	}

	dirty := false
	for i := range rt.Properties.Routes {
		route := &rt.Properties.Routes[i]
		if route.Properties.NextHopType != "VirtualAppliance" {
			continue
		}
		nextHop := route.Properties.NextHopIPAddress
		peerIdx := indexOf(cfg.Addresses.Peer, nextHop)
		if peerIdx < 0 {
			continue
		}
		if isPeerSlash32(route.Properties.AddressPrefix, nextHop) {
			continue
		}
		dirty = true
		route.Properties.NextHopIPAddress = cfg.Addresses.Me[peerIdx]
	}

	if dirty {
		if _, err := safePut(ctx, deps, rt.ID, rt, "route table update"); err != nil {
			return false, err
		}
	}
	return false, nil
}

// isPeerSlash32 reports whether prefix is nextHop's own /32 reachability
// route, which must never be rewritten even though its next-hop matches a
// configured peer address.
func isPeerSlash32(prefix, nextHop string) bool {
	parts := strings.Split(prefix, "/")
	return len(parts) == 2 && parts[0] == nextHop && parts[1] == "32"
}

func routeTableIDsForVNet(vnet *cloud.VirtualNetwork) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, subnet := range vnet.Properties.Subnets {
		if subnet.Properties.RouteTable != nil {
			ids[subnet.Properties.RouteTable.ID] = struct{}{}
		}
	}
	return ids
}

func routeTableIDs(ctx context.Context, deps Deps, cfg *config.Config) (map[string]struct{}, error) {
	vnetID, err := vnetID(ctx, deps, cfg)
	if err != nil {
		return nil, err
	}
	vnet, err := cloud.GetJSON[cloud.VirtualNetwork](ctx, deps.Client, vnetID)
	if err != nil {
		return nil, err
	}
	ids := routeTableIDsForVNet(vnet)

	for _, peering := range vnet.Properties.VirtualNetworkPeerings {
		if peering.Properties.PeeringState != "Connected" {
			if deps.TextLog != nil {
				deps.TextLog.Printf("peered vnet %s in state %s ignored", peering.Properties.RemoteVirtualNetwork.ID, peering.Properties.PeeringState)
			}
			continue
		}
		remote, err := cloud.GetJSON[cloud.VirtualNetwork](ctx, deps.Client, peering.Properties.RemoteVirtualNetwork.ID)
		if err != nil {
			if deps.TextLog != nil {
				deps.TextLog.Printf("failed to retrieve peered network %s: %v", peering.Properties.RemoteVirtualNetwork.ID, err)
			}
			continue
		}
		for id := range routeTableIDsForVNet(remote) {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

// vnetID discovers the VNet id from config if present, else by walking the
// local VM's primary NIC's first ipConfiguration to its subnet, caching the
// result on cfg exactly as get_vnet_id caches into conf['vnetId'].
func vnetID(ctx context.Context, deps Deps, cfg *config.Config) (string, error) {
	if cfg.VnetID != "" {
		return cfg.VnetID, nil
	}
	me, err := cloud.GetJSON[cloud.VirtualMachine](ctx, deps.Client, cfg.VMResourceID(cfg.Hostname))
	if err != nil {
		return "", err
	}
	myNIC, err := primaryNIC(ctx, deps, me)
	if err != nil {
		return "", err
	}
	if len(myNIC.Properties.IPConfigurations) == 0 || myNIC.Properties.IPConfigurations[0].Properties.Subnet == nil {
		return "", errors.New("cannot discover vnet id: primary NIC has no subnet")
	}
	subnetID := myNIC.Properties.IPConfigurations[0].Properties.Subnet.ID
	parts := strings.Split(subnetID, "/")
	if len(parts) < 2 {
		return "", errors.New("malformed subnet id: " + subnetID)
	}
	id := strings.Join(parts[:len(parts)-2], "/")
	cfg.VnetID = id
	return id, nil
}

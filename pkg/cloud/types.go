// Copyright 2017 Microsoft. All rights reserved.
// MIT License

// Package cloud is the external collaborator facade: it performs the
// authenticated GET/PUT calls against the cloud's ARM-shaped REST surface
// and classifies responses, but implements no reconciliation logic of its
// own. The resource shapes below mirror the subset of ARM's network/compute
// JSON documented in the daemon's data model (§3), not the full ARM schema.
package cloud

import "encoding/json"

// SubResource is the common `{ "id": "..." }` reference shape ARM uses
// throughout (subnets, public IPs, NAT rules, route tables, peered VNets).
type SubResource struct {
	ID string `json:"id"`
}

// ExtendedLocation marks a resource (or the context a PUT should carry) as
// belonging to an Azure Extended/Edge Zone.
type ExtendedLocation struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// IsEdgeZone reports whether the extended location is an edge zone.
func (e *ExtendedLocation) IsEdgeZone() bool {
	return e != nil && e.Type == "EdgeZone"
}

// IPConfiguration is one NIC ipConfiguration entry.
type IPConfiguration struct {
	Name       string `json:"name"`
	Properties struct {
		Primary                     bool          `json:"primary,omitempty"`
		PrivateIPAllocationMethod   string        `json:"privateIPAllocationMethod,omitempty"`
		PrivateIPAddressVersion     string        `json:"privateIPAddressVersion,omitempty"`
		PrivateIPAddress            string        `json:"privateIPAddress,omitempty"`
		Subnet                      *SubResource  `json:"subnet,omitempty"`
		ApplicationSecurityGroups   []SubResource `json:"applicationSecurityGroups,omitempty"`
		PublicIPAddress             *SubResource  `json:"publicIPAddress,omitempty"`
		LoadBalancerInboundNatRules []SubResource `json:"loadBalancerInboundNatRules,omitempty"`
	} `json:"properties"`
}

// NetworkInterface is an ARM networkInterfaces resource.
type NetworkInterface struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	ExtendedLocation *ExtendedLocation `json:"extendedLocation,omitempty"`
	Properties       struct {
		ProvisioningState    string            `json:"provisioningState"`
		Primary              bool              `json:"primary,omitempty"`
		IPConfigurations     []IPConfiguration `json:"ipConfigurations"`
		VnetExtendedLocation *ExtendedLocation `json:"vnetExtendedLocation,omitempty"`
	} `json:"properties"`
}

// ProvisioningState implements the provisioning-state predicate §4.1 reads.
func (n *NetworkInterface) ProvisioningState() string { return n.Properties.ProvisioningState }

// PrimaryIPConfig returns the NIC's primary ipConfiguration, falling back to
// index 0 when none is flagged primary (mirrors get_vm_primary_nic's
// single-NIC shortcut and how a freshly-created NIC's sole ipConfig is
// implicitly primary).
func (n *NetworkInterface) PrimaryIPConfig() *IPConfiguration {
	if len(n.Properties.IPConfigurations) == 0 {
		return nil
	}
	for i := range n.Properties.IPConfigurations {
		if n.Properties.IPConfigurations[i].Properties.Primary {
			return &n.Properties.IPConfigurations[i]
		}
	}
	return &n.Properties.IPConfigurations[0]
}

// NICReference is one networkProfile.networkInterfaces entry: unlike a bare
// SubResource, ARM includes a properties.primary flag here so multi-NIC VMs
// can be resolved to their primary NIC without a round trip.
type NICReference struct {
	ID         string `json:"id"`
	Properties struct {
		Primary bool `json:"primary,omitempty"`
	} `json:"properties,omitempty"`
}

// NetworkProfile lists a VM's attached NICs.
type NetworkProfile struct {
	NetworkInterfaces []NICReference `json:"networkInterfaces"`
}

// VirtualMachine is an ARM virtualMachines resource.
type VirtualMachine struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Properties struct {
		ProvisioningState string         `json:"provisioningState"`
		NetworkProfile    NetworkProfile `json:"networkProfile"`
	} `json:"properties"`
}

// ProvisioningState implements the provisioning-state predicate.
func (v *VirtualMachine) ProvisioningState() string { return v.Properties.ProvisioningState }

// NatRule is one load-balancer inbound NAT rule.
type NatRule struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LoadBalancer is an ARM loadBalancers resource.
type LoadBalancer struct {
	ID         string `json:"id"`
	Properties struct {
		ProvisioningState string    `json:"provisioningState"`
		InboundNatRules   []NatRule `json:"inboundNatRules"`
	} `json:"properties"`
}

// ProvisioningState implements the provisioning-state predicate.
func (l *LoadBalancer) ProvisioningState() string { return l.Properties.ProvisioningState }

// PublicIPAddress is an ARM publicIPAddresses resource.
type PublicIPAddress struct {
	ID         string `json:"id"`
	Properties struct {
		ProvisioningState string `json:"provisioningState"`
	} `json:"properties"`
}

// ProvisioningState implements the provisioning-state predicate.
func (p *PublicIPAddress) ProvisioningState() string { return p.Properties.ProvisioningState }

// Route is one user-defined route.
type Route struct {
	Name       string `json:"name,omitempty"`
	Properties struct {
		AddressPrefix    string `json:"addressPrefix"`
		NextHopType      string `json:"nextHopType"`
		NextHopIPAddress string `json:"nextHopIpAddress,omitempty"`
	} `json:"properties"`
}

// RouteTable is an ARM routeTables resource.
type RouteTable struct {
	ID         string `json:"id"`
	Properties struct {
		ProvisioningState string  `json:"provisioningState"`
		Routes            []Route `json:"routes"`
	} `json:"properties"`
}

// ProvisioningState implements the provisioning-state predicate.
func (r *RouteTable) ProvisioningState() string { return r.Properties.ProvisioningState }

// Subnet is an ARM subnet, only as much as route-table discovery needs.
type Subnet struct {
	ID         string `json:"id"`
	Properties struct {
		RouteTable *SubResource `json:"routeTable,omitempty"`
	} `json:"properties"`
}

// Peering is a VNet-to-VNet peering.
type Peering struct {
	Name       string `json:"name"`
	Properties struct {
		PeeringState         string      `json:"peeringState"`
		RemoteVirtualNetwork SubResource `json:"remoteVirtualNetwork"`
	} `json:"properties"`
}

// VirtualNetwork is an ARM virtualNetworks resource.
type VirtualNetwork struct {
	ID               string            `json:"id"`
	ExtendedLocation *ExtendedLocation `json:"extendedLocation,omitempty"`
	Properties       struct {
		Subnets                []Subnet  `json:"subnets"`
		VirtualNetworkPeerings []Peering `json:"virtualNetworkPeerings"`
	} `json:"properties"`
}

// listEnvelope is the `{"value": [...]}` shape ARM list endpoints return.
type listEnvelope[T any] struct {
	Value []T `json:"value"`
}

func decodeList[T any](raw json.RawMessage) ([]T, error) {
	var env listEnvelope[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return env.Value, nil
}

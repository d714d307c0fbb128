package reconcile

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chkp-dmorris/Azure-extended-zone/pkg/cloud"
	"github.com/chkp-dmorris/Azure-extended-zone/pkg/config"
)

func vnetTestID() string { return testBaseID + "microsoft.network/virtualNetworks/vnet1" }
func rtTestID(name string) string {
	return testBaseID + "microsoft.network/routeTables/" + name
}

func rtTestConfig() *config.Config {
	return &config.Config{
		Hostname: "fw1", PeerName: "fw2", BaseID: testBaseID,
		VnetID: vnetTestID(),
		Addresses: config.Addresses{
			Me:   []string{"10.0.1.4"},
			Peer: []string{"10.0.1.5"},
		},
	}
}

func seedVnetWithRouteTable(mc *cloud.MockClient, rtID string) {
	vnet := cloud.VirtualNetwork{ID: vnetTestID()}
	vnet.Properties.Subnets = []cloud.Subnet{
		{ID: "subnet1", Properties: struct {
			RouteTable *cloud.SubResource `json:"routeTable,omitempty"`
		}{RouteTable: &cloud.SubResource{ID: rtID}}},
	}
	mc.Seed(vnetTestID(), vnet)
}

// Scenario 5: route rewrite with /32 exception.
func TestRouteTablesRewritesButSkipsPeerSlash32(t *testing.T) {
	mc := cloud.NewMockClient()
	rtID := rtTestID("rt1")
	seedVnetWithRouteTable(mc, rtID)

	rt := cloud.RouteTable{ID: rtID}
	rt.Properties.ProvisioningState = "Succeeded"
	routeA := cloud.Route{Name: "default"}
	routeA.Properties.AddressPrefix = "0.0.0.0/0"
	routeA.Properties.NextHopType = "VirtualAppliance"
	routeA.Properties.NextHopIPAddress = "10.0.1.5"

	routeB := cloud.Route{Name: "peer-host"}
	routeB.Properties.AddressPrefix = "10.0.1.5/32"
	routeB.Properties.NextHopType = "VirtualAppliance"
	routeB.Properties.NextHopIPAddress = "10.0.1.5"

	rt.Properties.Routes = []cloud.Route{routeA, routeB}
	mc.Seed(rtID, rt)

	workRemains, err := RouteTables(context.Background(), testDeps(mc), rtTestConfig())
	require.NoError(t, err)
	require.False(t, workRemains)
	require.Len(t, mc.PutCalls, 1)
	require.Equal(t, rtID, mc.PutCalls[0].ResourceID)

	raw, err := json.Marshal(mc.PutCalls[0].Body)
	require.NoError(t, err)
	var updated cloud.RouteTable
	require.NoError(t, json.Unmarshal(raw, &updated))
	require.Equal(t, "10.0.1.4", updated.Properties.Routes[0].Properties.NextHopIPAddress)
	require.Equal(t, "10.0.1.5", updated.Properties.Routes[1].Properties.NextHopIPAddress)
}

// Scenario 6: peered VNet unreachable; local VNet's route tables still process.
func TestRouteTablesPeeredVnetUnreachableContinuesLocally(t *testing.T) {
	mc := cloud.NewMockClient()
	rtID := rtTestID("rt1")

	vnet := cloud.VirtualNetwork{ID: vnetTestID()}
	vnet.Properties.Subnets = []cloud.Subnet{
		{ID: "subnet1", Properties: struct {
			RouteTable *cloud.SubResource `json:"routeTable,omitempty"`
		}{RouteTable: &cloud.SubResource{ID: rtID}}},
	}
	remoteVnetID := testBaseID + "microsoft.network/virtualNetworks/vnet2"
	vnet.Properties.VirtualNetworkPeerings = []cloud.Peering{
		{Name: "peering1", Properties: struct {
			PeeringState         string            `json:"peeringState"`
			RemoteVirtualNetwork cloud.SubResource `json:"remoteVirtualNetwork"`
		}{PeeringState: "Connected", RemoteVirtualNetwork: cloud.SubResource{ID: remoteVnetID}}},
	}
	mc.Seed(vnetTestID(), vnet)
	mc.GetErrors[remoteVnetID] = &cloud.RequestError{Code: 403, Message: "forbidden"}

	rt := cloud.RouteTable{ID: rtID}
	rt.Properties.ProvisioningState = "Succeeded"
	route := cloud.Route{Name: "default"}
	route.Properties.AddressPrefix = "0.0.0.0/0"
	route.Properties.NextHopType = "VirtualAppliance"
	route.Properties.NextHopIPAddress = "10.0.1.5"
	rt.Properties.Routes = []cloud.Route{route}
	mc.Seed(rtID, rt)

	workRemains, err := RouteTables(context.Background(), testDeps(mc), rtTestConfig())
	require.NoError(t, err)
	require.False(t, workRemains)
	require.Len(t, mc.PutCalls, 1)
	require.Equal(t, rtID, mc.PutCalls[0].ResourceID)
}

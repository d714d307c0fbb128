package reconcile

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chkp-dmorris/Azure-extended-zone/pkg/cloud"
	"github.com/chkp-dmorris/Azure-extended-zone/pkg/config"
)

const testBaseID = "/subscriptions/sub-1/resourcegroups/rg-1/providers/"

func nicID(name string) string {
	return testBaseID + "microsoft.network/networkinterfaces/" + name
}

func vmID(name string) string {
	return testBaseID + "microsoft.compute/virtualmachines/" + name
}

func seedNICList(mc *cloud.MockClient, ids ...string) {
	nics := make([]cloud.NetworkInterface, 0, len(ids))
	for _, id := range ids {
		var nic cloud.NetworkInterface
		raw, err := mc.Get(context.Background(), id)
		if err != nil {
			panic(err)
		}
		if err := json.Unmarshal(raw, &nic); err != nil {
			panic(err)
		}
		nics = append(nics, nic)
	}
	mc.Seed(testBaseID+"microsoft.network/networkinterfaces", map[string]interface{}{"value": nics})
}

func testDeps(mc *cloud.MockClient) Deps {
	return Deps{
		Client:         mc,
		TextLog:        nil,
		Structured:     zap.NewNop(),
		SafePutOptions: cloud.DefaultSafePutOptions(),
	}
}

func baseVIPConfig() *config.Config {
	return &config.Config{
		Hostname:      "fw1",
		PeerName:      "fw2",
		TemplateName:  "ha",
		BaseID:        testBaseID,
		SubscriptionID: "sub-1",
		ResourceGroup: "rg-1",
		ClusterNetworkInterfaces: []config.ClusterInterface{
			{Suffix: "eth0", VIPs: []config.VIP{{Name: "cluster-vip", PrivateIPAddr: "10.0.0.10"}}},
		},
	}
}

func seedVM(mc *cloud.MockClient, hostname, primaryNICID string) {
	vm := cloud.VirtualMachine{ID: vmID(hostname), Name: hostname}
	vm.Properties.ProvisioningState = "Succeeded"
	vm.Properties.NetworkProfile.NetworkInterfaces = []cloud.NICReference{{ID: primaryNICID}}
	mc.Seed(vmID(hostname), vm)
}

// Scenario 1: clean failover, single VIP.
func TestVIPsCleanFailoverSingleVIP(t *testing.T) {
	mc := cloud.NewMockClient()
	myNIC := nicID("fw1-eth0")
	peerNIC := nicID("fw2-eth0")

	seedVM(mc, "fw1", myNIC)
	seedVM(mc, "fw2", peerNIC)

	my := cloud.NetworkInterface{ID: myNIC, Name: "fw1-eth0"}
	my.Properties.ProvisioningState = "Succeeded"
	my.Properties.IPConfigurations = []cloud.IPConfiguration{{Name: "ipconfig1"}}
	my.Properties.IPConfigurations[0].Properties.Primary = true
	my.Properties.IPConfigurations[0].Properties.Subnet = &cloud.SubResource{ID: "subnet1"}
	mc.Seed(myNIC, my)

	peer := cloud.NetworkInterface{ID: peerNIC, Name: "fw2-eth0"}
	peer.Properties.ProvisioningState = "Succeeded"
	peer.Properties.IPConfigurations = []cloud.IPConfiguration{
		{Name: "ipconfig1"},
		{Name: "cluster-vip"},
	}
	peer.Properties.IPConfigurations[1].Properties.PrivateIPAddress = "10.0.0.10"
	mc.Seed(peerNIC, peer)

	seedNICList(mc, myNIC, peerNIC)

	cfg := baseVIPConfig()
	deps := testDeps(mc)
	ctx := context.Background()

	// Tick 1: peer-remove pass.
	workRemains, err := VIPs(ctx, deps, cfg)
	require.NoError(t, err)
	require.True(t, workRemains)
	require.Len(t, mc.PutCalls, 1)
	require.Equal(t, peerNIC, mc.PutCalls[0].ResourceID)
	seedNICList(mc, myNIC, peerNIC)

	// Tick 2: self-add pass.
	workRemains, err = VIPs(ctx, deps, cfg)
	require.NoError(t, err)
	require.True(t, workRemains)
	require.Len(t, mc.PutCalls, 2)
	require.Equal(t, myNIC, mc.PutCalls[1].ResourceID)
	seedNICList(mc, myNIC, peerNIC)

	// Tick 3: converged, no further PUTs.
	workRemains, err = VIPs(ctx, deps, cfg)
	require.NoError(t, err)
	require.False(t, workRemains)
	require.Len(t, mc.PutCalls, 2)
}

// Scenario 2: already converged.
func TestVIPsAlreadyConverged(t *testing.T) {
	mc := cloud.NewMockClient()
	myNIC := nicID("fw1-eth0")
	peerNIC := nicID("fw2-eth0")
	seedVM(mc, "fw1", myNIC)
	seedVM(mc, "fw2", peerNIC)

	my := cloud.NetworkInterface{ID: myNIC, Name: "fw1-eth0"}
	my.Properties.ProvisioningState = "Succeeded"
	my.Properties.IPConfigurations = []cloud.IPConfiguration{
		{Name: "ipconfig1"},
		{Name: "cluster-vip"},
	}
	my.Properties.IPConfigurations[0].Properties.Primary = true
	my.Properties.IPConfigurations[0].Properties.Subnet = &cloud.SubResource{ID: "subnet1"}
	mc.Seed(myNIC, my)

	peer := cloud.NetworkInterface{ID: peerNIC, Name: "fw2-eth0"}
	peer.Properties.ProvisioningState = "Succeeded"
	peer.Properties.IPConfigurations = []cloud.IPConfiguration{{Name: "ipconfig1"}}
	mc.Seed(peerNIC, peer)

	seedNICList(mc, myNIC, peerNIC)

	cfg := baseVIPConfig()
	deps := testDeps(mc)

	workRemains, err := VIPs(context.Background(), deps, cfg)
	require.NoError(t, err)
	require.False(t, workRemains)
	require.Len(t, mc.PutCalls, 0)
}

// Scenario 3: serial interface mode processes one interface at a time.
func TestVIPsSerialModeStopsAtFirstInterfaceNeedingWork(t *testing.T) {
	mc := cloud.NewMockClient()
	myEth0, peerEth0 := nicID("fw1-eth0"), nicID("fw2-eth0")
	myEth1, peerEth1 := nicID("fw1-eth1"), nicID("fw2-eth1")

	vm := cloud.VirtualMachine{ID: vmID("fw1"), Name: "fw1"}
	vm.Properties.ProvisioningState = "Succeeded"
	vm.Properties.NetworkProfile.NetworkInterfaces = []cloud.NICReference{{ID: myEth0}, {ID: myEth1}}
	mc.Seed(vmID("fw1"), vm)

	peerVM := cloud.VirtualMachine{ID: vmID("fw2"), Name: "fw2"}
	peerVM.Properties.ProvisioningState = "Succeeded"
	peerVM.Properties.NetworkProfile.NetworkInterfaces = []cloud.NICReference{{ID: peerEth0}, {ID: peerEth1}}
	mc.Seed(vmID("fw2"), peerVM)

	makeNIC := func(id, name string, withVIP bool) cloud.NetworkInterface {
		n := cloud.NetworkInterface{ID: id, Name: name}
		n.Properties.ProvisioningState = "Succeeded"
		n.Properties.IPConfigurations = []cloud.IPConfiguration{{Name: "ipconfig1"}}
		n.Properties.IPConfigurations[0].Properties.Primary = true
		n.Properties.IPConfigurations[0].Properties.Subnet = &cloud.SubResource{ID: "subnet1"}
		if withVIP {
			n.Properties.IPConfigurations = append(n.Properties.IPConfigurations, cloud.IPConfiguration{Name: "cluster-vip"})
		}
		return n
	}

	mc.Seed(myEth0, makeNIC(myEth0, "fw1-eth0", false))
	mc.Seed(peerEth0, makeNIC(peerEth0, "fw2-eth0", true))
	mc.Seed(myEth1, makeNIC(myEth1, "fw1-eth1", false))
	mc.Seed(peerEth1, makeNIC(peerEth1, "fw2-eth1", true))
	seedNICList(mc, myEth0, peerEth0, myEth1, peerEth1)

	cfg := &config.Config{
		Hostname: "fw1", PeerName: "fw2", TemplateName: "ha", BaseID: testBaseID,
		InterfaceSwitchMode: "serial",
		ClusterNetworkInterfaces: []config.ClusterInterface{
			{Suffix: "eth0", VIPs: []config.VIP{{Name: "cluster-vip", PrivateIPAddr: "10.0.0.10"}}},
			{Suffix: "eth1", VIPs: []config.VIP{{Name: "cluster-vip", PrivateIPAddr: "10.0.1.10"}}},
		},
	}
	deps := testDeps(mc)
	ctx := context.Background()

	// Tick 1: eth0 peer-remove only; eth1 untouched because serial mode
	// stops at the first interface requiring a write.
	_, err := VIPs(ctx, deps, cfg)
	require.NoError(t, err)
	require.Len(t, mc.PutCalls, 1)
	require.Equal(t, peerEth0, mc.PutCalls[0].ResourceID)
	seedNICList(mc, myEth0, peerEth0, myEth1, peerEth1)

	// Tick 2: eth0 self-add.
	_, err = VIPs(ctx, deps, cfg)
	require.NoError(t, err)
	require.Len(t, mc.PutCalls, 2)
	require.Equal(t, myEth0, mc.PutCalls[1].ResourceID)
	seedNICList(mc, myEth0, peerEth0, myEth1, peerEth1)

	// Tick 3: eth0 fully converged (no-op), falls through to eth1 peer-remove.
	_, err = VIPs(ctx, deps, cfg)
	require.NoError(t, err)
	require.Len(t, mc.PutCalls, 3)
	require.Equal(t, peerEth1, mc.PutCalls[2].ResourceID)
	seedNICList(mc, myEth0, peerEth0, myEth1, peerEth1)

	// Tick 4: eth1 self-add.
	_, err = VIPs(ctx, deps, cfg)
	require.NoError(t, err)
	require.Len(t, mc.PutCalls, 4)
	require.Equal(t, myEth1, mc.PutCalls[3].ResourceID)
	seedNICList(mc, myEth0, peerEth0, myEth1, peerEth1)

	// Tick 5: fully converged.
	workRemains, err := VIPs(ctx, deps, cfg)
	require.NoError(t, err)
	require.False(t, workRemains)
	require.Len(t, mc.PutCalls, 4)
}

// Scenario 4: edge-zone add falls back to returning the desired body.
func TestVIPsEdgeZoneAddFallsBack(t *testing.T) {
	mc := cloud.NewMockClient()
	myNIC := nicID("fw1-eth0")
	peerNIC := nicID("fw2-eth0")
	seedVM(mc, "fw1", myNIC)
	seedVM(mc, "fw2", peerNIC)

	my := cloud.NetworkInterface{ID: myNIC, Name: "fw1-eth0", ExtendedLocation: &cloud.ExtendedLocation{Name: "ez-1", Type: "EdgeZone"}}
	my.Properties.ProvisioningState = "Succeeded"
	my.Properties.IPConfigurations = []cloud.IPConfiguration{{Name: "ipconfig1"}}
	my.Properties.IPConfigurations[0].Properties.Primary = true
	my.Properties.IPConfigurations[0].Properties.Subnet = &cloud.SubResource{ID: "subnet1"}
	mc.Seed(myNIC, my)

	peer := cloud.NetworkInterface{ID: peerNIC, Name: "fw2-eth0"}
	peer.Properties.ProvisioningState = "Succeeded"
	peer.Properties.IPConfigurations = []cloud.IPConfiguration{{Name: "ipconfig1"}}
	mc.Seed(peerNIC, peer)

	seedNICList(mc, myNIC, peerNIC)
	mc.PutErrors[myNIC] = &cloud.RequestError{Code: 409, Message: "InvalidExtendedLocation: edge zone resource"}

	cfg := baseVIPConfig()
	deps := testDeps(mc)

	workRemains, err := VIPs(context.Background(), deps, cfg)
	require.NoError(t, err)
	require.True(t, workRemains)
	require.Len(t, mc.PutCalls, 1)
	require.Equal(t, myNIC, mc.PutCalls[0].ResourceID)
}

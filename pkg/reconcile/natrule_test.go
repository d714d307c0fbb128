package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chkp-dmorris/Azure-extended-zone/pkg/cloud"
	"github.com/chkp-dmorris/Azure-extended-zone/pkg/config"
)

func lbID() string { return testBaseID + "microsoft.network/loadBalancers/lb1" }

func natTestConfig() *config.Config {
	return &config.Config{
		Hostname: "fw1", PeerName: "fw2", BaseID: testBaseID, LBName: "lb1",
	}
}

func seedPrimaryNIC(mc *cloud.MockClient, hostname, id string, rules []cloud.SubResource) {
	seedVM(mc, hostname, id)
	nic := cloud.NetworkInterface{ID: id, Name: hostname + "-eth0"}
	nic.Properties.ProvisioningState = "Succeeded"
	nic.Properties.IPConfigurations = []cloud.IPConfiguration{{Name: "ipconfig1"}}
	nic.Properties.IPConfigurations[0].Properties.Primary = true
	nic.Properties.IPConfigurations[0].Properties.LoadBalancerInboundNatRules = rules
	mc.Seed(id, nic)
}

func TestNATRulesAssociatesWhenNotOnEitherSide(t *testing.T) {
	mc := cloud.NewMockClient()
	lb := cloud.LoadBalancer{ID: lbID()}
	lb.Properties.InboundNatRules = []cloud.NatRule{{ID: lbID() + "/inboundNatRules/cluster-vip-1", Name: "cluster-vip-1"}}
	mc.Seed(lbID(), lb)

	seedPrimaryNIC(mc, "fw1", nicID("fw1-eth0"), nil)
	seedPrimaryNIC(mc, "fw2", nicID("fw2-eth0"), nil)

	workRemains, err := NATRules(context.Background(), testDeps(mc), natTestConfig())
	require.NoError(t, err)
	require.True(t, workRemains)
	require.Len(t, mc.PutCalls, 1)
	require.Equal(t, nicID("fw1-eth0"), mc.PutCalls[0].ResourceID)
}

func TestNATRulesDisassociatesFromPeerFirst(t *testing.T) {
	mc := cloud.NewMockClient()
	ruleID := lbID() + "/inboundNatRules/cluster-vip-1"
	lb := cloud.LoadBalancer{ID: lbID()}
	lb.Properties.InboundNatRules = []cloud.NatRule{{ID: ruleID, Name: "cluster-vip-1"}}
	mc.Seed(lbID(), lb)

	seedPrimaryNIC(mc, "fw1", nicID("fw1-eth0"), nil)
	seedPrimaryNIC(mc, "fw2", nicID("fw2-eth0"), []cloud.SubResource{{ID: ruleID}})

	workRemains, err := NATRules(context.Background(), testDeps(mc), natTestConfig())
	require.NoError(t, err)
	require.True(t, workRemains)
	require.Len(t, mc.PutCalls, 1)
	require.Equal(t, nicID("fw2-eth0"), mc.PutCalls[0].ResourceID)
}

func TestNATRulesNoopWhenAlreadyAssociated(t *testing.T) {
	mc := cloud.NewMockClient()
	ruleID := lbID() + "/inboundNatRules/cluster-vip-1"
	lb := cloud.LoadBalancer{ID: lbID()}
	lb.Properties.InboundNatRules = []cloud.NatRule{{ID: ruleID, Name: "cluster-vip-1"}}
	mc.Seed(lbID(), lb)

	seedPrimaryNIC(mc, "fw1", nicID("fw1-eth0"), []cloud.SubResource{{ID: ruleID}})
	seedPrimaryNIC(mc, "fw2", nicID("fw2-eth0"), nil)

	workRemains, err := NATRules(context.Background(), testDeps(mc), natTestConfig())
	require.NoError(t, err)
	require.False(t, workRemains)
	require.Len(t, mc.PutCalls, 0)
}

func TestNATRulesLBMissingIsNoWork(t *testing.T) {
	mc := cloud.NewMockClient()
	seedPrimaryNIC(mc, "fw1", nicID("fw1-eth0"), nil)
	seedPrimaryNIC(mc, "fw2", nicID("fw2-eth0"), nil)

	workRemains, err := NATRules(context.Background(), testDeps(mc), natTestConfig())
	require.NoError(t, err)
	require.False(t, workRemains)
	require.Len(t, mc.PutCalls, 0)
}

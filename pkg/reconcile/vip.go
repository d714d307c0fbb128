package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chkp-dmorris/Azure-extended-zone/pkg/cloud"
	"github.com/chkp-dmorris/Azure-extended-zone/pkg/config"
)

// VIPs implements §4.4 (set_cluster_ips): for each configured cluster
// network interface, it removes stale VIPs from the peer NIC, then adds
// missing VIPs to the local NIC, one write per interface per call. Returns
// true iff at least one interface still has work remaining.
func VIPs(ctx context.Context, deps Deps, cfg *config.Config) (bool, error) {
	me, err := cloud.GetJSON[cloud.VirtualMachine](ctx, deps.Client, cfg.VMResourceID(cfg.Hostname))
	if err != nil {
		return false, err
	}
	peer, err := cloud.GetJSON[cloud.VirtualMachine](ctx, deps.Client, cfg.VMResourceID(cfg.PeerName))
	if err != nil {
		return false, err
	}

	allNICs, err := listAllNICs(ctx, deps, cfg.BaseID)
	if err != nil {
		return false, err
	}
	myNICs := vmNICs(me, allNICs)
	peerNICs := vmNICs(peer, allNICs)

	done := 0
	for _, cni := range cfg.ClusterNetworkInterfaces {
		complete, err := reconcileOneInterface(ctx, deps, cfg, cni, myNICs, peerNICs)
		if err != nil {
			return false, err
		}
		if complete {
			done++
			continue
		}
		if cfg.InterfaceSwitchMode == "serial" {
			break
		}
	}
	return done != len(cfg.ClusterNetworkInterfaces), nil
}

// reconcileOneInterface runs the peer-cleanup pass then the self-addition
// pass for one configured interface. complete is true only for a true
// no-op pass: the interface needed zero writes this tick (§9 Open
// Questions: "done" increments only on complete no-op passes).
func reconcileOneInterface(ctx context.Context, deps Deps, cfg *config.Config, cni config.ClusterInterface, myNICs, peerNICs []cloud.NetworkInterface) (bool, error) {
	err := func() error {
		peerNIC, err := nicBySuffix(peerNICs, cni.Suffix)
		if err != nil {
			return err
		}
		state, err := Ready(ctx, deps, peerNIC.ID, peerNIC)
		if err != nil {
			return err
		}
		if state != StateReady {
			return errInterfaceDone
		}

		removed := false
		for _, vip := range cni.VIPs {
			if idx := clusterIPIndex(peerNIC, vip.Name); idx >= 0 {
				cfgs := peerNIC.Properties.IPConfigurations
				peerNIC.Properties.IPConfigurations = append(cfgs[:idx], cfgs[idx+1:]...)
				removed = true
			}
		}
		if removed {
			if _, err := safePut(ctx, deps, peerNIC.ID, peerNIC, fmt.Sprintf("peer %s VIP removal", cni.Suffix)); err != nil {
				return err
			}
			return errInterfaceDone
		}

		myNIC, err := nicBySuffix(myNICs, cni.Suffix)
		if err != nil {
			return err
		}
		state, err = Ready(ctx, deps, myNIC.ID, myNIC)
		if err != nil {
			return err
		}
		if state != StateReady {
			return errInterfaceDone
		}

		if len(myNIC.Properties.IPConfigurations) == 0 {
			return fmt.Errorf("NIC %s has no ipConfigurations to copy subnet/ASG from", myNIC.ID)
		}
		subnet := myNIC.Properties.IPConfigurations[0].Properties.Subnet
		asgs := myNIC.Properties.IPConfigurations[0].Properties.ApplicationSecurityGroups

		appended := false
		for _, vip := range cni.VIPs {
			if clusterIPIndex(myNIC, vip.Name) >= 0 {
				continue
			}
			ipc := cloud.IPConfiguration{Name: vip.Name}
			ipc.Properties.Primary = false
			ipc.Properties.PrivateIPAllocationMethod = "Static"
			ipc.Properties.PrivateIPAddressVersion = "IPv4"
			ipc.Properties.PrivateIPAddress = vip.PrivateIPAddr
			ipc.Properties.Subnet = subnet
			ipc.Properties.ApplicationSecurityGroups = asgs
			if vip.PublicIPObj != "" {
				id := vip.PublicIPObj
				if !strings.Contains(id, "/") {
					id = cfg.BaseID + "Microsoft.Network/publicIPAddresses/" + vip.PublicIPObj
				}
				ipc.Properties.PublicIPAddress = &cloud.SubResource{ID: id}
			}
			myNIC.Properties.IPConfigurations = append(myNIC.Properties.IPConfigurations, ipc)
			appended = true
		}

		if appended {
			if _, err := safePut(ctx, deps, myNIC.ID, myNIC, fmt.Sprintf("my %s VIP addition", cni.Suffix)); err != nil {
				return err
			}
			return errInterfaceDone
		}

		return nil
	}()

	if err == nil {
		return true, nil
	}
	if errors.Is(err, errInterfaceDone) {
		return false, nil
	}
	return false, err
}

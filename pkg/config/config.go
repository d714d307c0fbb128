// Copyright 2017 Microsoft. All rights reserved.
// MIT License

// Package config holds the daemon's desired-state configuration: the shape
// dumped by the external "azure-ha-conf --dump" collaborator, normalized
// into the structures the reconcilers consume.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// VIP is one configured virtual-IP record for a cluster network interface.
type VIP struct {
	Name          string
	PrivateIPAddr string
	PublicIPObj   string
}

// ClusterInterface binds an interface-name suffix (e.g. "eth0") to its
// ordered list of VIPs. Kept as a slice, not a map, because §4.4's tie-break
// rule processes interfaces in configuration order.
type ClusterInterface struct {
	Suffix string
	VIPs   []VIP
}

// Addresses holds the sync-interface IP pairs used to rewrite route
// next-hops, populated from the "cphaconf aws_mode" probe.
type Addresses struct {
	Me   []string
	Peer []string
}

// Credentials authenticates against the cloud control plane.
type Credentials struct {
	Username string
	Password string
}

// Config is the fully loaded, normalized desired state for one reload epoch.
type Config struct {
	Hostname                 string
	PeerName                 string
	SubscriptionID           string
	ResourceGroup            string
	TemplateName             string
	ClusterNetworkInterfaces []ClusterInterface
	LBName                   string
	ClusterName              string
	VnetID                   string
	InterfaceSwitchMode      string
	Addresses                Addresses
	Credentials              Credentials
	Environment              string
	Proxy                    string
	Debug                    bool

	// BaseID is "/subscriptions/<s>/resourcegroups/<rg>/providers/",
	// derived by Finalize from SubscriptionID/ResourceGroup.
	BaseID string

	// Todo mirrors the engine's sticky work-remains flag across ticks; the
	// config structure is the only long-lived state the engine holds
	// besides this flag (§3 Lifecycle).
	Todo bool
}

// IsStackProfile reports whether this config selects the stack-ha
// API-version profile.
func (c *Config) IsStackProfile() bool {
	return c.TemplateName == "stack-ha"
}

// HasClusterInterfaces reports whether the VIP/NAT-rule reconcilers apply.
func (c *Config) HasClusterInterfaces() bool {
	return len(c.ClusterNetworkInterfaces) > 0
}

// VMResourceID builds the ARM resource id of the named virtual machine.
func (c *Config) VMResourceID(name string) string {
	return c.BaseID + "microsoft.compute/virtualmachines/" + name
}

// PublicIPResourceID builds the ARM resource id of the cluster public IP.
func (c *Config) PublicIPResourceID() string {
	return c.BaseID + "Microsoft.Network/publicIPAddresses/" + c.ClusterName
}

// LoadBalancerResourceID builds the ARM resource id of the configured LB.
func (c *Config) LoadBalancerResourceID() string {
	return c.BaseID + "microsoft.network/loadBalancers/" + c.LBName
}

// Finalize fills in fields that depend on other fields or on the host
// environment, mirroring the tail of original_source's reconf(): hostname
// fallback, peername derivation, and baseId construction.
func (c *Config) Finalize() error {
	if c.Hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return errors.Wrap(err, "determining local hostname")
		}
		c.Hostname = h
	}
	if c.PeerName == "" {
		c.PeerName = deriveName(c.Hostname)
	}
	c.TemplateName = strings.ToLower(c.TemplateName)
	c.BaseID = fmt.Sprintf("/subscriptions/%s/resourcegroups/%s/providers/", c.SubscriptionID, c.ResourceGroup)
	return nil
}

// deriveName flips a trailing "1"/"2" member suffix to guess the peer's
// hostname when the config dump omits "peername" outright.
func deriveName(hostname string) string {
	if hostname == "" {
		return hostname
	}
	if strings.HasSuffix(hostname, "1") {
		return hostname[:len(hostname)-1] + "2"
	}
	return hostname[:len(hostname)-1] + "1"
}

// configShadow mirrors the JSON shape "azure-ha-conf --dump" emits.
type configShadow struct {
	Hostname                 string          `json:"hostname"`
	PeerName                 string          `json:"peername"`
	SubscriptionID           string          `json:"subscriptionId"`
	ResourceGroup            string          `json:"resourceGroup"`
	TemplateName             string          `json:"templateName"`
	ClusterNetworkInterfaces json.RawMessage `json:"clusterNetworkInterfaces"`
	LBName                   string          `json:"lbName"`
	ClusterName              string          `json:"clusterName"`
	VnetID                   string          `json:"vnetId"`
	InterfaceSwitchMode      string          `json:"interfaceSwitchMode"`
	Credentials              *Credentials    `json:"credentials"`
	UserName                 string          `json:"userName"`
	Password                 string          `json:"password"`
	Environment              string          `json:"environment"`
	Proxy                    string          `json:"proxy"`
	Debug                    bool            `json:"debug"`
}

// UnmarshalJSON decodes the raw config dump, applying the credentials
// fallback and the legacy clusterNetworkInterfaces normalization documented
// as supplemented features.
func (c *Config) UnmarshalJSON(data []byte) error {
	var shadow configShadow
	if err := json.Unmarshal(data, &shadow); err != nil {
		return errors.Wrap(err, "decoding configuration dump")
	}

	*c = Config{
		Hostname:            shadow.Hostname,
		PeerName:            shadow.PeerName,
		SubscriptionID:      shadow.SubscriptionID,
		ResourceGroup:       shadow.ResourceGroup,
		TemplateName:        shadow.TemplateName,
		LBName:              shadow.LBName,
		ClusterName:         shadow.ClusterName,
		VnetID:              shadow.VnetID,
		InterfaceSwitchMode: shadow.InterfaceSwitchMode,
		Environment:         shadow.Environment,
		Proxy:               shadow.Proxy,
		Debug:               shadow.Debug,
	}

	if shadow.Credentials != nil {
		c.Credentials = *shadow.Credentials
	} else {
		c.Credentials = Credentials{Username: shadow.UserName, Password: shadow.Password}
	}

	cnis, err := NormalizeClusterInterfaces(shadow.ClusterNetworkInterfaces)
	if err != nil {
		return err
	}
	c.ClusterNetworkInterfaces = cnis
	return nil
}

type vipShadow struct {
	Name          string `json:"name"`
	PrivateIPAddr string `json:"privateIpAddr"`
	PublicIPObj   string `json:"publicIpObj"`
}

// NormalizeClusterInterfaces decodes the clusterNetworkInterfaces object,
// preserving configuration order, and upgrades any legacy single-VIP shape
// (`"eth0": ["10.0.0.10", "myPublicIp"]`) into the documented VIP-record
// shape, mirroring update_conf_structure_multiple_vip.
func NormalizeClusterInterfaces(raw json.RawMessage) ([]ClusterInterface, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, errors.Wrap(err, "clusterNetworkInterfaces")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("clusterNetworkInterfaces: expected a JSON object")
	}

	var result []ClusterInterface
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, errors.Wrap(err, "clusterNetworkInterfaces")
		}
		suffix, _ := keyTok.(string)

		var rawVips json.RawMessage
		if err := dec.Decode(&rawVips); err != nil {
			return nil, errors.Wrapf(err, "clusterNetworkInterfaces[%s]", suffix)
		}
		vips, err := normalizeVIPList(suffix, rawVips)
		if err != nil {
			return nil, err
		}
		result = append(result, ClusterInterface{Suffix: suffix, VIPs: vips})
	}
	if _, err := dec.Token(); err != nil {
		return nil, errors.Wrap(err, "clusterNetworkInterfaces")
	}
	return result, nil
}

func normalizeVIPList(suffix string, raw json.RawMessage) ([]VIP, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, errors.Wrapf(err, "clusterNetworkInterfaces[%s]", suffix)
	}
	if len(items) == 0 {
		return nil, nil
	}

	var probe map[string]interface{}
	if err := json.Unmarshal(items[0], &probe); err == nil {
		vips := make([]VIP, 0, len(items))
		for _, item := range items {
			var v vipShadow
			if err := json.Unmarshal(item, &v); err != nil {
				return nil, errors.Wrapf(err, "clusterNetworkInterfaces[%s]", suffix)
			}
			vips = append(vips, VIP{Name: v.Name, PrivateIPAddr: v.PrivateIPAddr, PublicIPObj: v.PublicIPObj})
		}
		return vips, nil
	}

	// Legacy shape: a bare [privateIp, publicIpObj?] pair naming an
	// implicit single VIP called "cluster-vip".
	var legacy []string
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, errors.Wrapf(err, "clusterNetworkInterfaces[%s]: unrecognized shape", suffix)
	}
	pub := ""
	if len(legacy) > 1 {
		pub = legacy[1]
	}
	return []VIP{{Name: "cluster-vip", PrivateIPAddr: legacy[0], PublicIPObj: pub}}, nil
}

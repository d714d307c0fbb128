package config

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/chkp-dmorris/Azure-extended-zone/internal/log"
	"github.com/chkp-dmorris/Azure-extended-zone/internal/platform"
	"github.com/chkp-dmorris/Azure-extended-zone/pkg/cloud"
	"github.com/chkp-dmorris/Azure-extended-zone/pkg/status"
)

// Loader reloads configuration by shelling out to the operator's config
// dumper and cluster-sync probe, exactly as original_source's reconf() does.
type Loader struct {
	// FWDir is the Check Point installation root; the dumper lives at
	// <FWDir>/bin/azure-ha-conf.
	FWDir string
	// Logger receives the level toggle reconf() performs on conf['debug'].
	Logger *log.Logger
	// Status receives the multiple-VIP diagnostics update, same as
	// reconf()'s call to update_cpdiag() right after normalizing
	// clusterNetworkInterfaces. May be nil to disable the side-file write.
	Status *status.Publisher
}

// NewLoader builds a Loader rooted at fwdir.
func NewLoader(fwdir string, logger *log.Logger, statusPublisher *status.Publisher) *Loader {
	return &Loader{FWDir: fwdir, Logger: logger, Status: statusPublisher}
}

// awsModeShadow mirrors the JSON "cphaconf aws_mode" emits.
type awsModeShadow struct {
	Ifs []struct {
		IPAddr          string `json:"ipaddr"`
		OtherMemberIfIP string `json:"other_member_if_ip"`
	} `json:"ifs"`
}

// Load runs the dumper, normalizes the result, fetches sync-interface
// addresses, builds a cloud client from the resolved credentials, and
// performs the trailing subscription connectivity check before returning.
func (l *Loader) Load(ctx context.Context) (*Config, cloud.Client, error) {
	dumpPath := filepath.Join(l.FWDir, "bin", "azure-ha-conf")
	out, err := platform.ExecuteCommand(dumpPath, "--dump")
	if err != nil {
		return nil, nil, errors.Wrap(err, "loading configuration")
	}

	var cfg Config
	if err := json.Unmarshal([]byte(out), &cfg); err != nil {
		return nil, nil, errors.Wrap(err, "parsing configuration dump")
	}
	if err := cfg.Finalize(); err != nil {
		return nil, nil, err
	}

	if l.Status != nil {
		if err := l.Status.WriteVIPUsage(vipCounts(cfg.ClusterNetworkInterfaces)); err != nil {
			if l.Logger != nil {
				l.Logger.Errorf("updating VIP-count diagnostics side-file: %v", err)
			}
		}
	}

	if l.Logger != nil {
		if cfg.Debug {
			l.Logger.SetLevel(log.LevelDebug)
		} else {
			l.Logger.SetLevel(log.LevelInfo)
		}
	}

	awsOut, err := platform.ExecuteCommand("cphaconf", "aws_mode")
	if err != nil {
		return nil, nil, errors.Wrap(err, "reading sync-interface addresses")
	}
	var awsMode awsModeShadow
	if err := json.Unmarshal([]byte(awsOut), &awsMode); err != nil {
		return nil, nil, errors.Wrap(err, "parsing aws_mode output")
	}
	for _, ifc := range awsMode.Ifs {
		if ifc.OtherMemberIfIP != "" {
			cfg.Addresses.Me = append(cfg.Addresses.Me, ifc.IPAddr)
			cfg.Addresses.Peer = append(cfg.Addresses.Peer, ifc.OtherMemberIfIP)
		}
	}

	client := cloud.NewHTTPClient(cloud.Options{
		Credentials:    cloud.Credentials{Username: cfg.Credentials.Username, Password: cfg.Credentials.Password},
		Environment:    cfg.Environment,
		Proxy:          cfg.Proxy,
		IsStackProfile: cfg.IsStackProfile(),
	})

	subID := subscriptionResourceID(cfg.BaseID)
	if _, err := client.Get(ctx, subID); err != nil {
		return nil, nil, errors.Wrap(err, "connecting to cloud subscription")
	}

	return &cfg, client, nil
}

// vipCounts builds the per-interface VIP tally update_cpdiag() reports,
// keyed by cluster-interface suffix (e.g. "eth0").
func vipCounts(cnis []ClusterInterface) map[string]int {
	counts := make(map[string]int, len(cnis))
	for _, cni := range cnis {
		counts[cni.Suffix] = len(cni.VIPs)
	}
	return counts
}

// subscriptionResourceID derives "/subscriptions/<id>" from baseId, mirroring
// reconf()'s `'/'.join(conf['baseId'].split('/')[:-4])`.
func subscriptionResourceID(baseID string) string {
	parts := strings.Split(baseID, "/")
	if len(parts) <= 4 {
		return baseID
	}
	return strings.Join(parts[:len(parts)-4], "/")
}

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chkp-dmorris/Azure-extended-zone/pkg/status"
)

func TestVIPCounts(t *testing.T) {
	cnis := []ClusterInterface{
		{Suffix: "eth0", VIPs: []VIP{{Name: "a"}, {Name: "b"}}},
		{Suffix: "eth1", VIPs: nil},
	}
	require.Equal(t, map[string]int{"eth0": 2, "eth1": 0}, vipCounts(cnis))
}

// writeFakeScript writes an executable shell script at dir/name that prints
// output to stdout and exits 0.
func writeFakeScript(t *testing.T, dir, name, output string) {
	t.Helper()
	script := filepath.Join(dir, name)
	content := "#!/bin/sh\ncat <<'EOF'\n" + output + "\nEOF\n"
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))
}

// TestLoadWritesVIPUsage confirms Load updates the diagnostics side-file
// with per-interface VIP counts right after normalizing
// clusterNetworkInterfaces, the same way reconf() calls update_cpdiag()
// before doing anything else with the dump, regardless of whether the
// trailing subscription connectivity check later succeeds.
func TestLoadWritesVIPUsage(t *testing.T) {
	fwdir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(fwdir, "bin"), 0o755))
	writeFakeScript(t, filepath.Join(fwdir, "bin"), "azure-ha-conf", `{
		"hostname": "fw1",
		"subscriptionId": "sub-1",
		"resourceGroup": "rg-1",
		"templateName": "ha",
		"clusterNetworkInterfaces": {
			"eth0": [{"name": "cluster-vip", "privateIpAddr": "10.0.0.10"}],
			"eth1": [{"name": "cluster-vip2", "privateIpAddr": "10.0.1.10"}, {"name": "cluster-vip3", "privateIpAddr": "10.0.1.11"}]
		},
		"credentials": {"username": "u", "password": "p"}
	}`)

	probeDir := t.TempDir()
	writeFakeScript(t, probeDir, "cphaconf", `{"ifs": []}`)
	oldPath := os.Getenv("PATH")
	require.NoError(t, os.Setenv("PATH", probeDir+":"+oldPath))
	t.Cleanup(func() { os.Setenv("PATH", oldPath) })

	diagPath := filepath.Join(t.TempDir(), "cloud-version")
	require.NoError(t, os.WriteFile(diagPath, []byte("unrelated: line\n"), 0o644))
	statusPublisher := status.New(filepath.Join(fwdir, "tmp", "ha_status"), diagPath)

	loader := NewLoader(fwdir, nil, statusPublisher)

	// The subscription connectivity check that follows is a real outbound
	// HTTP call this test has no business making; bound it tightly so the
	// test fails fast on the network leg instead of exercising it.
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, _, err := loader.Load(ctx)
	_ = err // the network leg is expected to fail in this hermetic test

	diag, readErr := os.ReadFile(diagPath)
	require.NoError(t, readErr)
	require.Contains(t, string(diag), "unrelated: line")
	require.Contains(t, string(diag), "eth0_vips_number: 1")
	require.Contains(t, string(diag), "eth1_vips_number: 2")
}

package provision

import (
	"fmt"
	"sort"
	"strings"

	"github.com/3cpo-dev/kubeprovision/internal/remote"
)

const (
	modulesLoadFile = "/etc/modules-load.d/k8s.conf"
	sysctlFile      = "/etc/sysctl.d/k8s.conf"
)

// Step is one named, idempotent command in a provisioning script.
type Step struct {
	Name    string
	Command remote.Command
}

// Script is an ordered list of steps run one after another on a node.
type Script []Step

// Options parameterises the default script.
type Options struct {
	// Runtime is the container runtime package and service name.
	Runtime string
	// Modules are the kernel modules loaded at boot and immediately.
	Modules []string
	// Sysctl holds the kernel parameters written to the sysctl drop-in.
	Sysctl map[string]string
}

// DefaultOptions returns the settings kubeadm expects from a containerd node.
func DefaultOptions() Options {
	return Options{
		Runtime: "containerd",
		Modules: []string{"overlay", "br_netfilter"},
		Sysctl: map[string]string{
			"net.bridge.bridge-nf-call-iptables":  "1",
			"net.bridge.bridge-nf-call-ip6tables": "1",
			"net.ipv4.ip_forward":                 "1",
		},
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Runtime == "" {
		o.Runtime = d.Runtime
	}
	if len(o.Modules) == 0 {
		o.Modules = d.Modules
	}
	if len(o.Sysctl) == 0 {
		o.Sysctl = d.Sysctl
	}
	return o
}

// DefaultScript builds the fixed node preparation sequence: disable swap,
// configure and load kernel modules, configure and apply sysctl, install the
// container runtime, write its default configuration, then restart and
// verify the service.
func DefaultScript(o Options) Script {
	o = o.withDefaults()
	rt := o.Runtime

	s := Script{
		{Name: "swapoff", Command: remote.Sudo("swapoff", "-a")},
		{Name: "modules-config", Command: writeFile(modulesLoadFile, strings.Join(o.Modules, "\n"))},
	}
	for _, m := range o.Modules {
		s = append(s, Step{Name: "modprobe-" + m, Command: remote.Sudo("modprobe", m)})
	}
	s = append(s,
		Step{Name: "sysctl-config", Command: writeFile(sysctlFile, sysctlLines(o.Sysctl))},
		Step{Name: "sysctl-apply", Command: remote.Sudo("sysctl", "--system")},
		Step{Name: "apt-update", Command: remote.Sudo("apt-get", "update", "-y")},
		Step{Name: "runtime-install", Command: remote.Sudo("apt-get", "install", "-y", rt)},
		Step{Name: "runtime-config-dir", Command: remote.Sudo("mkdir", "-p", "/etc/"+rt)},
		Step{Name: "runtime-config", Command: remote.Bash("%s config default | sudo tee /etc/%s/config.toml > /dev/null", rt, rt)},
		Step{Name: "runtime-restart", Command: remote.Sudo("systemctl", "restart", rt)},
		Step{Name: "runtime-status", Command: remote.Exec("service", rt, "status")},
	)
	return s
}

// Names returns the step names in order.
func (s Script) Names() []string {
	names := make([]string, len(s))
	for i, st := range s {
		names[i] = st.Name
	}
	return names
}

// writeFile renders a shell script that writes content to path as root.
func writeFile(path, content string) remote.Script {
	return remote.Bash("cat <<'EOF' | sudo tee %s > /dev/null\n%s\nEOF", path, content)
}

func sysctlLines(kv map[string]string) string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = fmt.Sprintf("%s = %s", k, kv[k])
	}
	return strings.Join(lines, "\n")
}

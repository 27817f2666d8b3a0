// Package portal keeps a captive-portal router's MAC whitelist in line
// with ticket validity: grant on activation, revoke once the holder's last
// ticket expires.
package portal

import (
	"fmt"
	"io"
	"os/exec"
)

// Firewall applies or removes the whitelist rule for one client MAC.
type Firewall interface {
	Allow(mac string) error
	Revoke(mac string) error
}

// IPTables drives the router's iptables chain directly.
type IPTables struct {
	Chain string
}

func (f *IPTables) chain() string {
	if f.Chain == "" {
		return "internet_access"
	}
	return f.Chain
}

func (f *IPTables) Allow(mac string) error {
	return exec.Command("iptables", "-I", f.chain(), "1", "-m", "mac", "--mac-source", mac, "-j", "RETURN").Run()
}

func (f *IPTables) Revoke(mac string) error {
	return exec.Command("iptables", "-D", f.chain(), "-m", "mac", "--mac-source", mac, "-j", "RETURN").Run()
}

// CommandWriter prints the iptables commands instead of running them, for
// dry runs and for routers where an operator applies rules out of band.
type CommandWriter struct {
	Chain string
	W     io.Writer
}

func (f *CommandWriter) chain() string {
	if f.Chain == "" {
		return "internet_access"
	}
	return f.Chain
}

func (f *CommandWriter) Allow(mac string) error {
	_, err := fmt.Fprintf(f.W, "iptables -I %s 1 -m mac --mac-source %s -j RETURN\n", f.chain(), mac)
	return err
}

func (f *CommandWriter) Revoke(mac string) error {
	_, err := fmt.Fprintf(f.W, "iptables -D %s -m mac --mac-source %s -j RETURN\n", f.chain(), mac)
	return err
}

package models

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// Device is a managed network element from the inventory.
type Device struct {
	ID            string        `yaml:"id" json:"id"`
	Host          string        `yaml:"host" json:"host"`
	Port          int           `yaml:"port" json:"port,omitempty"`
	Transport     string        `yaml:"transport" json:"transport,omitempty"`
	OS            string        `yaml:"os" json:"os"`
	Tags          []string      `yaml:"tags" json:"tags,omitempty"`
	DependsOn     []string      `yaml:"depends_on" json:"depends_on,omitempty"`
	Downstream    []string      `yaml:"downstream" json:"downstream,omitempty"`
	CredentialRef string        `yaml:"credential_ref" json:"credential_ref,omitempty"`
	Username      string        `yaml:"username" json:"-"`
	Password      string        `yaml:"password" json:"-"`
	PollInterval  time.Duration `yaml:"poll_interval" json:"poll_interval,omitempty"`
	DeepAudit     bool          `yaml:"deep_audit" json:"deep_audit,omitempty"`
}

// HasTag reports whether the device carries tag (case-insensitive).
func (d Device) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// HasAnyTag reports whether the device carries at least one of tags.
// An empty filter matches every device.
func (d Device) HasAnyTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, tag := range tags {
		if d.HasTag(tag) {
			return true
		}
	}
	return false
}

// Address returns host:port using the transport default port when unset.
func (d Device) Address() string {
	port := d.Port
	if port == 0 {
		switch strings.ToLower(d.Transport) {
		case "telnet":
			port = 23
		default:
			port = 22
		}
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(port))
}

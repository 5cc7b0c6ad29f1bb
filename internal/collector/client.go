package collector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/models"
)

// Session runs a single command. Devices require a fresh session per command.
type Session interface {
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

// Client is an established connection to a device.
type Client interface {
	NewSession() (Session, error)
	Close() error
}

// Dialer opens a Client to a device.
type Dialer interface {
	Dial(ctx context.Context, device models.Device) (Client, error)
}

// ErrCredentials marks a device whose credentials cannot be resolved. It is never retried.
var ErrCredentials = errors.New("credentials unavailable")

// SSHDialer connects to devices over SSH with password authentication.
type SSHDialer struct {
	timeout     time.Duration
	hostKey     ssh.HostKeyCallback
	credentials map[string]config.Credentials
}

// NewSSHDialer builds the host key policy from cfg: a known_hosts file when configured,
// otherwise host keys are only skipped when explicitly allowed.
func NewSSHDialer(cfg config.CollectorConfig) (*SSHDialer, error) {
	var callback ssh.HostKeyCallback
	switch {
	case cfg.KnownHostsPath != "":
		cb, err := knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("parse known_hosts: %w", err)
		}
		callback = cb
	case cfg.InsecureIgnoreHostKey:
		callback = ssh.InsecureIgnoreHostKey()
	default:
		return nil, errors.New("no SSH host key policy: set knownHostsPath or insecureIgnoreHostKey")
	}
	return &SSHDialer{timeout: cfg.ConnectTimeout, hostKey: callback, credentials: cfg.Credentials}, nil
}

// Dial implements Dialer.
func (d *SSHDialer) Dial(ctx context.Context, device models.Device) (Client, error) {
	creds, err := resolveCredentials(device, d.credentials)
	if err != nil {
		return nil, err
	}
	clientCfg := &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(creds.Password)},
		HostKeyCallback: d.hostKey,
		Timeout:         d.timeout,
	}

	addr := device.Address()
	dialer := net.Dialer{Timeout: d.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	return &sshClient{client: ssh.NewClient(c, chans, reqs)}, nil
}

type sshClient struct {
	client *ssh.Client
}

func (c *sshClient) NewSession() (Session, error) {
	sess, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open ssh session: %w", err)
	}
	return sess, nil
}

func (c *sshClient) Close() error {
	return c.client.Close()
}

// resolveCredentials prefers inline device credentials over a named credential set.
func resolveCredentials(device models.Device, named map[string]config.Credentials) (config.Credentials, error) {
	if device.Username != "" {
		return config.Credentials{Username: device.Username, Password: device.Password}, nil
	}
	if device.CredentialRef != "" {
		if creds, ok := named[device.CredentialRef]; ok {
			return creds, nil
		}
		return config.Credentials{}, fmt.Errorf("%w: device %s references unknown credential_ref %q", ErrCredentials, device.ID, device.CredentialRef)
	}
	return config.Credentials{}, fmt.Errorf("%w: device %s has none configured", ErrCredentials, device.ID)
}

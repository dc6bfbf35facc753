package gateway

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// sedFilterFmt extracts the "host:port" fragment of every "server ...;"
// directive for the given backend port from an NGINX upstream block.
const sedFilterFmt = `sed -rn "s/.*\bserver\b(.*\b:%s\b).*/\1/p;" %s`

// sedOfflineFmt comments out the server line for host, after first checking
// whether it is already commented (idempotent).
const sedOfflineFmt = `grep -qE "^[[:space:]]*#.*\bserver\b.*\b%s\b" %s || ` +
	`(sed --follow-symlinks -ri "s/(.*\bserver\b\s+?\b%s\b.*)/#\1/g" %s && nginx -t && nginx -s reload)`

// sedOnlineFmt uncomments the server line for host, after first checking
// whether it is already active (idempotent).
const sedOnlineFmt = `grep -qE "^[[:space:]]*\bserver\b.*\b%s\b" %s || ` +
	`(sed --follow-symlinks -ri "s/(\s*)#+(.*\bserver\b\s+?\b%s\b.*)/\1\2/g" %s && nginx -t && nginx -s reload)`

// remoteNGINX is a single NGINX peer reached over SSH.
type remoteNGINX struct {
	host   string
	client *ssh.Client
	logger *slog.Logger
}

func (r *remoteNGINX) run(ctx context.Context, command string) (string, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("nginx ssh session %s: %w", r.host, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("nginx remote command on %s: %w: %s", r.host, err, stderr.String())
		}
		return stdout.String(), nil
	}
}

// NGINXConfig holds the global NGINX gateway connection settings.
type NGINXConfig struct {
	Hosts      []string
	Username   string
	AuthMethod ssh.AuthMethod
	DialTimeout time.Duration
}

// NGINX is a Gateway backed by one or more NGINX peers, each reached over
// SSH. Offline/Online rewrite the site's conf file on every peer and
// reload, mirroring the source's per-peer sed-and-reload approach.
type NGINX struct {
	peers      []*remoteNGINX
	configFile string
	backendPort string
	logger     *slog.Logger
}

// NewNGINX dials every configured peer and returns an NGINX gateway that
// manages the given backend pool's config file.
func NewNGINX(ctx context.Context, cfg NGINXConfig, configFile, backendPort string, logger *slog.Logger) (*NGINX, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("nginx gateway: at least one host is required")
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{cfg.AuthMethod},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // operator-controlled infra hosts, not user input
		Timeout:         cfg.DialTimeout,
	}

	peers := make([]*remoteNGINX, 0, len(cfg.Hosts))
	for _, host := range cfg.Hosts {
		client, err := ssh.Dial("tcp", host, sshCfg)
		if err != nil {
			return nil, fmt.Errorf("nginx gateway: dial %s: %w", host, err)
		}
		peers = append(peers, &remoteNGINX{host: host, client: client, logger: logger})
	}

	return &NGINX{peers: peers, configFile: configFile, backendPort: backendPort, logger: logger}, nil
}

func (n *NGINX) GetServers(ctx context.Context) (map[string]struct{}, error) {
	servers := make(map[string]struct{})
	var mu sync.Mutex
	var wg sync.WaitGroup
	cmd := fmt.Sprintf(sedFilterFmt, n.backendPort, n.configFile)

	for _, peer := range n.peers {
		wg.Add(1)
		go func(peer *remoteNGINX) {
			defer wg.Done()
			out, err := peer.run(ctx, cmd)
			if err != nil {
				n.logger.Error("nginx get servers failed", "host", peer.host, "error", err)
				return
			}
			mu.Lock()
			for _, line := range strings.Split(out, "\n") {
				line = strings.TrimSpace(line)
				if line != "" {
					servers[line] = struct{}{}
				}
			}
			mu.Unlock()
		}(peer)
	}
	wg.Wait()

	return servers, nil
}

func (n *NGINX) Offline(ctx context.Context, host string) error {
	cmd := fmt.Sprintf(sedOfflineFmt, host, n.configFile, host, n.configFile)
	return n.changeAll(ctx, host, cmd)
}

func (n *NGINX) Online(ctx context.Context, host string) error {
	cmd := fmt.Sprintf(sedOnlineFmt, host, n.configFile, host, n.configFile)
	return n.changeAll(ctx, host, cmd)
}

func (n *NGINX) changeAll(ctx context.Context, host, cmd string) error {
	var errs []error
	for _, peer := range n.peers {
		if _, err := peer.run(ctx, cmd); err != nil {
			n.logger.Error("nginx config change failed", "host", peer.host, "server", host, "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("nginx gateway: %d of %d peers failed: %w", len(errs), len(n.peers), errs[0])
	}
	return nil
}

// Close releases the SSH connections to every peer.
func (n *NGINX) Close() error {
	var last error
	for _, peer := range n.peers {
		if err := peer.client.Close(); err != nil {
			last = err
		}
	}
	return last
}

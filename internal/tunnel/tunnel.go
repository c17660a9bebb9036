// Package tunnel implements the egress-tunnel supervisor (C13): it
// spawns one of several tunnel binaries as a child process, parses
// its startup output to recover a public URL, and owns the child's
// lifecycle. Process spawn/stop discipline (cancellable context,
// signal-then-kill with a grace window, pipe-scanning goroutine for a
// readiness signal) is grounded on the teacher's
// internal/process/local.go LocalExecutor.
package tunnel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hanzoai/gateway/internal/origin"
	"github.com/hanzoai/gateway/pkg/gwmodels"
)

const startupTimeout = 30 * time.Second

var (
	cloudflaredURLRe = regexp.MustCompile(`https://[a-z0-9-]+\.trycloudflare\.com`)
	localxposeURLRe  = regexp.MustCompile(`https?://[^\s]+\.loclx\.io`)
	zrokURLRe        = regexp.MustCompile(`https?://[^\s]+\.zrok\.[^\s]+`)
)

// Supervisor starts and stops egress-tunnel child processes, wiring
// their public origin into an origin.Policy's runtime allow-set.
type Supervisor struct {
	Policy *origin.Policy

	mu      sync.Mutex
	handles []*gwmodels.TunnelHandle
}

// New builds a Supervisor. policy may be nil, in which case started
// tunnels do not get their origin registered anywhere (tests, or a
// deployment that manages CORS out of band).
func New(policy *origin.Policy) *Supervisor {
	return &Supervisor{Policy: policy}
}

// Detect probes providers in the fixed autodetect order (cloudflared,
// ngrok, localxpose, zrok) and returns the first whose binary answers
// --version, or gwmodels.TunnelNone if none are available.
func Detect() gwmodels.TunnelProvider {
	order := []struct {
		provider gwmodels.TunnelProvider
		bin      string
	}{
		{gwmodels.TunnelCloudflared, "cloudflared"},
		{gwmodels.TunnelNgrok, "ngrok"},
		{gwmodels.TunnelLocalXpose, "loclx"},
		{gwmodels.TunnelZrok, "zrok"},
	}
	for _, candidate := range order {
		if binAvailable(candidate.bin) {
			return candidate.provider
		}
	}
	return gwmodels.TunnelNone
}

func binAvailable(bin string) bool {
	if _, err := exec.LookPath(bin); err != nil {
		return false
	}
	return exec.Command(bin, "--version").Run() == nil
}

// proc bundles a running child command with the single goroutine
// allowed to call cmd.Wait() on it.
type proc struct {
	cmd    *exec.Cmd
	exited chan struct{}
}

func (p *proc) killGracefully() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	}
	select {
	case <-p.exited:
	case <-time.After(3 * time.Second):
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		<-p.exited
	}
}

// Start launches cfg.Provider, waits up to 30s for its public URL to
// appear in its output, registers the public origin on the policy's
// runtime allow-set, and returns a handle. A gwmodels.TunnelNone or
// unavailable provider returns (nil, nil): the gateway continues
// without a public URL, per spec.md §6's "child-tunnel failures log
// and return null" propagation rule.
func (s *Supervisor) Start(ctx context.Context, cfg gwmodels.TunnelConfig) (*gwmodels.TunnelHandle, error) {
	if cfg.Provider == "" || cfg.Provider == gwmodels.TunnelNone {
		return nil, nil
	}

	spawner, ok := spawners[cfg.Provider]
	if !ok {
		log.Warn().Str("provider", string(cfg.Provider)).Msg("tunnel: unknown provider, skipping")
		return nil, nil
	}

	procCtx, cancel := context.WithCancel(context.Background())

	p, urlCh, err := spawner(procCtx, cfg)
	if err != nil {
		cancel()
		log.Warn().Err(err).Str("provider", string(cfg.Provider)).Msg("tunnel: spawn failed, continuing without a public URL")
		return nil, nil
	}

	var publicURL string
	select {
	case publicURL = <-urlCh:
	case <-time.After(startupTimeout):
		p.killGracefully()
		cancel()
		return nil, fmt.Errorf("%s startup timed out (%.0fs)", cfg.Provider, startupTimeout.Seconds())
	case <-ctx.Done():
		p.killGracefully()
		cancel()
		return nil, ctx.Err()
	case <-p.exited:
		cancel()
		return nil, fmt.Errorf("%s exited before reporting a public url", cfg.Provider)
	}

	publicOrigin, wsURL := wsAndOrigin(publicURL)

	if s.Policy != nil {
		s.Policy.Add(publicOrigin)
	}

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			p.killGracefully()
			cancel()
			if s.Policy != nil {
				s.Policy.Remove(publicOrigin)
			}
		})
	}

	handle := &gwmodels.TunnelHandle{
		PublicURL:    wsURL,
		PublicOrigin: publicOrigin,
		Provider:     cfg.Provider,
		Stop:         stop,
	}

	s.mu.Lock()
	s.handles = append(s.handles, handle)
	s.mu.Unlock()

	go func() {
		<-p.exited
		stop()
	}()

	return handle, nil
}

// StopAll stops every tunnel this Supervisor has started. Idempotent
// per handle.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	handles := append([]*gwmodels.TunnelHandle(nil), s.handles...)
	s.mu.Unlock()
	for _, h := range handles {
		h.Stop()
	}
}

// wsAndOrigin converts an https public URL into its wss equivalent
// and a trailing-slash-stripped https origin, per spec.md §6.
func wsAndOrigin(publicURL string) (origin, wsURL string) {
	trimmed := strings.TrimRight(publicURL, "/")
	switch {
	case strings.HasPrefix(trimmed, "https://"):
		return trimmed, "wss://" + strings.TrimPrefix(trimmed, "https://")
	case strings.HasPrefix(trimmed, "http://"):
		return trimmed, "ws://" + strings.TrimPrefix(trimmed, "http://")
	default:
		return trimmed, trimmed
	}
}

// spawnFunc starts a provider's child process, returning the running
// proc handle and a channel that delivers the discovered public URL
// once.
type spawnFunc func(ctx context.Context, cfg gwmodels.TunnelConfig) (*proc, <-chan string, error)

var spawners = map[gwmodels.TunnelProvider]spawnFunc{
	gwmodels.TunnelCloudflared: spawnCloudflared,
	gwmodels.TunnelNgrok:       spawnNgrok,
	gwmodels.TunnelLocalXpose:  spawnLocalXpose,
	gwmodels.TunnelZrok:        spawnZrok,
}

func spawnCloudflared(ctx context.Context, cfg gwmodels.TunnelConfig) (*proc, <-chan string, error) {
	args := []string{"tunnel", "--url", fmt.Sprintf("http://localhost:%d", cfg.Port)}
	if cfg.Domain != "" {
		args = append(args, "--hostname", cfg.Domain)
	}
	cmd := exec.CommandContext(ctx, "cloudflared", args...)
	return runAndScan(cmd, scanPlainText(cloudflaredURLRe))
}

func spawnLocalXpose(ctx context.Context, cfg gwmodels.TunnelConfig) (*proc, <-chan string, error) {
	if cfg.AuthToken != "" {
		login := exec.CommandContext(ctx, "loclx", "account", "login", "--token", cfg.AuthToken)
		_ = login.Run()
	}
	args := []string{"tunnel", "http", "--to", fmt.Sprintf("localhost:%d", cfg.Port)}
	if cfg.Domain != "" {
		args = append(args, "--subdomain", cfg.Domain)
	}
	cmd := exec.CommandContext(ctx, "loclx", args...)
	return runAndScan(cmd, scanPlainText(localxposeURLRe))
}

func spawnZrok(ctx context.Context, cfg gwmodels.TunnelConfig) (*proc, <-chan string, error) {
	cmd := exec.CommandContext(ctx, "zrok", "share", "public", fmt.Sprintf("http://localhost:%d", cfg.Port))
	return runAndScan(cmd, scanPlainText(zrokURLRe))
}

func spawnNgrok(ctx context.Context, cfg gwmodels.TunnelConfig) (*proc, <-chan string, error) {
	if cfg.AuthToken != "" {
		login := exec.CommandContext(ctx, "ngrok", "config", "add-authtoken", cfg.AuthToken)
		_ = login.Run()
	}
	args := []string{"http", fmt.Sprintf("%d", cfg.Port), "--log", "stdout", "--log-format", "json"}
	if cfg.Domain != "" {
		args = append(args, "--domain", cfg.Domain)
	}
	cmd := exec.CommandContext(ctx, "ngrok", args...)
	return runAndScan(cmd, scanNgrokJSON)
}

// runAndScan starts cmd with stdout and stderr each fed to scan by
// their own goroutine, and a third goroutine that owns the single
// permitted cmd.Wait() call and closes exited on exit.
func runAndScan(cmd *exec.Cmd, scan func(io.Reader, chan<- string)) (*proc, <-chan string, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, err
	}

	urlCh := make(chan string, 1)

	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}

	go scan(stdout, urlCh)
	go scan(stderr, urlCh)

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	return &proc{cmd: cmd, exited: exited}, urlCh, nil
}

// scanPlainText returns a scan func that line-scans r for re's first
// match and sends it once on found.
func scanPlainText(re *regexp.Regexp) func(io.Reader, chan<- string) {
	return func(r io.Reader, found chan<- string) {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if m := re.FindString(scanner.Text()); m != "" {
				select {
				case found <- m:
				default:
				}
				return
			}
		}
	}
}

// scanNgrokJSON line-scans r for ngrok's line-delimited JSON log
// records and sends the first non-empty "url" field.
func scanNgrokJSON(r io.Reader, found chan<- string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if u, ok := rec["url"].(string); ok && u != "" {
			select {
			case found <- u:
			default:
			}
			return
		}
	}
}

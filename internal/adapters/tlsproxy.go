package adapters

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/oriys/skysweep/internal/sources"
	"github.com/oriys/skysweep/internal/stats"
)

// TLSProxy is the TLS stream adapter with optional HTTP CONNECT
// tunneling: dial the proxy (or the host directly), tunnel, then
// upgrade to TLS with the real host as SNI.
type TLSProxy struct {
	site  sources.Site
	stats *stats.Handle
}

// NewTLSProxy constructs a TLSProxy adapter bound to site.
func NewTLSProxy(site sources.Site, st *stats.Handle) (*TLSProxy, error) {
	if err := site.Credential.Accepts(sources.CredLogin, sources.CredAnonymous); err != nil {
		return nil, err
	}
	return &TLSProxy{site: site, stats: st}, nil
}

func (t *TLSProxy) Name() string   { return t.site.Name }
func (t *TLSProxy) Format() string { return "tls-proxy" }

func (t *TLSProxy) Authenticate(context.Context) (string, error) { return "", nil }

// connect dials directly, or tunnels through an HTTP CONNECT proxy when
// site.HTTPProxy is set, then wraps the stream in TLS using the real
// host as SNI.
func (t *TLSProxy) connect(ctx context.Context) (*tls.Conn, error) {
	u, err := url.Parse(t.site.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("adapters: parse tlsproxy url: %w", err)
	}
	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}
	sni := u.Hostname()

	d := net.Dialer{Timeout: 10 * time.Second}

	if t.site.HTTPProxy == "" {
		conn, err := d.DialContext(ctx, "tcp", host)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTLSConnectFailed, err)
		}
		return tls.Client(conn, &tls.Config{ServerName: sni}), nil
	}

	proxyURL, err := url.Parse(t.site.HTTPProxy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadProxyString, err)
	}
	conn, err := d.DialContext(ctx, "tcp", proxyURL.Host)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProxyConnectFailed, err)
	}

	var req bytes.Buffer
	fmt.Fprintf(&req, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n", host, host)
	if proxyURL.User != nil {
		pw, _ := proxyURL.User.Password()
		cred := base64.StdEncoding.EncodeToString([]byte(proxyURL.User.Username() + ":" + pw))
		fmt.Fprintf(&req, "Proxy-Authorization: Basic %s\r\n", cred)
	}
	req.WriteString("\r\n")

	if _, err := conn.Write(req.Bytes()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrProxyConnectFailed, err)
	}

	reader := bufio.NewReader(conn)
	status, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrProxyConnectFailed, err)
	}
	if !strings.Contains(status, "HTTP/1.1 200") {
		conn.Close()
		return nil, fmt.Errorf("%w: proxy returned %q", ErrProxyConnectFailed, strings.TrimSpace(status))
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil || line == "\r\n" {
			break
		}
	}

	return tls.Client(conn, &tls.Config{ServerName: sni}), nil
}

// Fetch sends a bounded range-query command and reads until EOF,
// framing the collected records as a single JSON array.
func (t *TLSProxy) Fetch(ctx context.Context, out chan<- sources.Record, _ string, args json.RawMessage) error {
	var filter sources.Filter
	if len(args) > 0 {
		if err := json.Unmarshal(args, &filter); err != nil {
			return fmt.Errorf("adapters: decode filter: %w", err)
		}
	}

	conn, err := t.connect(ctx)
	if err != nil {
		t.stats.Error()
		return err
	}
	defer conn.Close()
	if err := conn.HandshakeContext(ctx); err != nil {
		t.stats.Error()
		return fmt.Errorf("%w: %v", ErrTLSConnectFailed, err)
	}

	cmd := fmt.Sprintf("range %d %d username %s password %s events \"position\"\n",
		filter.Begin.Unix(), filter.End.Unix(), t.site.Credential.Login, t.site.Credential.Password)
	if _, err := conn.Write([]byte(cmd)); err != nil {
		t.stats.Error()
		return err
	}

	lines, err := readLinesUntilEOF(conn)
	if err != nil {
		t.stats.Error()
		return err
	}

	framed := frameAsJSONArray(lines)
	select {
	case out <- sources.Record(framed):
	case <-ctx.Done():
		return nil
	}
	t.stats.Pkts(int64(len(lines)))
	t.stats.Bytes(int64(len(framed)))
	return nil
}

// Stream issues a live/point-in-time-recovery command and emits
// records until ctx is cancelled.
func (t *TLSProxy) Stream(ctx context.Context, out chan<- sources.Record, _ string, args json.RawMessage) error {
	var filter sources.Filter
	if len(args) > 0 {
		if err := json.Unmarshal(args, &filter); err != nil {
			return fmt.Errorf("adapters: decode filter: %w", err)
		}
	}

	conn, err := t.connect(ctx)
	if err != nil {
		t.stats.Error()
		return err
	}
	defer conn.Close()
	if err := conn.HandshakeContext(ctx); err != nil {
		t.stats.Error()
		return fmt.Errorf("%w: %v", ErrTLSConnectFailed, err)
	}

	cmd := "live\n"
	if filter.Kind == sources.FilterStream && !filter.StreamFrom.IsZero() {
		cmd = fmt.Sprintf("pitr %d\n", filter.StreamFrom.Unix())
	}
	if _, err := conn.Write([]byte(cmd)); err != nil {
		t.stats.Error()
		return err
	}

	reader := bufio.NewReader(conn)
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			select {
			case out <- sources.Record(line):
			case <-ctx.Done():
				return nil
			}
			t.stats.Pkts(1)
			t.stats.Bytes(int64(len(line)))
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			t.stats.Error()
			return err
		}
	}
}

func readLinesUntilEOF(conn net.Conn) ([][]byte, error) {
	reader := bufio.NewReader(conn)
	var lines [][]byte
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			lines = append(lines, bytes.TrimRight(line, "\r\n"))
		}
		if err != nil {
			return lines, nil
		}
	}
}

func frameAsJSONArray(lines [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, line := range lines {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(line)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

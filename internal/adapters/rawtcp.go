package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"time"

	"golang.org/x/sys/unix"

	"github.com/oriys/skysweep/internal/logging"
	"github.com/oriys/skysweep/internal/sources"
	"github.com/oriys/skysweep/internal/stats"
)

const (
	rawTCPDefaultPort  = "30005"
	rawTCPStartMarker  = 0x02 // STX
	rawTCPReadBuf      = 4096
	rawTCPReconnectMin = 500 * time.Millisecond
	rawTCPReconnectMax = 10 * time.Second
)

// RawTCP is the in-band STX-framed TCP stream adapter: write the
// credential lines and the start marker, then read fixed-size buffers
// until cancelled, reconnecting on any read error.
type RawTCP struct {
	site    sources.Site
	stats   *stats.Handle
	host    string
	apiKey  string
	userKey string
}

// NewRawTCP parses the site's base URL as host[:port] with optional
// userinfo credentials.
func NewRawTCP(site sources.Site, st *stats.Handle) (*RawTCP, error) {
	u, err := url.Parse(site.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("adapters: parse raw-tcp url: %w", err)
	}
	host := u.Host
	if host == "" {
		host = u.Opaque
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, rawTCPDefaultPort)
	}

	r := &RawTCP{site: site, stats: st, host: host}
	if u.User != nil {
		r.apiKey = u.User.Username()
		r.userKey, _ = u.User.Password()
	} else if site.Credential.Kind == sources.CredUserKey {
		r.apiKey = site.Credential.UserAPIKey
		r.userKey = site.Credential.UserKey
	}
	return r, nil
}

func (r *RawTCP) Name() string   { return r.site.Name }
func (r *RawTCP) Format() string { return "raw-tcp" }

func (r *RawTCP) Authenticate(context.Context) (string, error) { return "", nil }

type rawTCPArgs struct {
	MinAltitude *float64 `json:"min_altitude,omitempty"`
	MaxAltitude *float64 `json:"max_altitude,omitempty"`
	TrafficSrc  string   `json:"traffic_src,omitempty"`
}

// Stream connects, sends the credential/filter preamble and start
// marker, then reads fixed-size buffers until cancellation,
// reconnecting with backoff on any read error.
func (r *RawTCP) Stream(ctx context.Context, out chan<- sources.Record, _ string, args json.RawMessage) error {
	var decoded rawTCPArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &decoded); err != nil {
			return fmt.Errorf("adapters: decode raw-tcp args: %w", err)
		}
	}

	backoff := rawTCPReconnectMin
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := r.dial(ctx, decoded)
		if err != nil {
			r.stats.Error()
			if !sleepBackoff(ctx, &backoff) {
				return nil
			}
			continue
		}

		err = r.readLoop(ctx, conn, out, decoded)
		conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			r.stats.Error()
			r.stats.Reconnect()
			logging.Op().Warn("raw-tcp connection lost, reconnecting", "site", r.site.Name, "error", err)
			if !sleepBackoff(ctx, &backoff) {
				return nil
			}
			continue
		}
		backoff = rawTCPReconnectMin
	}
}

func (r *RawTCP) dial(ctx context.Context, args rawTCPArgs) (net.Conn, error) {
	d := net.Dialer{Timeout: 10 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", r.host)
	if err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		applyKeepalive(tcp)
	}

	var preamble bytes.Buffer
	fmt.Fprintf(&preamble, "%s\n%s\n", r.apiKey, r.userKey)
	if args.MinAltitude != nil {
		fmt.Fprintf(&preamble, "min_altitude=%g\n", *args.MinAltitude)
	}
	if args.MaxAltitude != nil {
		fmt.Fprintf(&preamble, "max_altitude=%g\n", *args.MaxAltitude)
	}
	preamble.WriteByte(rawTCPStartMarker)

	if _, err := conn.Write(preamble.Bytes()); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (r *RawTCP) readLoop(ctx context.Context, conn net.Conn, out chan<- sources.Record, args rawTCPArgs) error {
	buf := make([]byte, rawTCPReadBuf)
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() && ctx.Err() == nil {
				continue
			}
			return err
		}
		if n == 0 {
			r.stats.Empty()
			continue
		}

		chunk := buf[:n]
		filtered, count, err := r.filterChunk(chunk, args.TrafficSrc)
		if err != nil {
			r.stats.Error()
			continue
		}
		if len(filtered) == 0 {
			r.stats.Empty()
			continue
		}

		select {
		case out <- sources.Record(filtered):
		case <-ctx.Done():
			return nil
		}
		r.stats.Pkts(int64(count))
		r.stats.Bytes(int64(len(filtered)))
	}
}

// filterChunk optionally parses chunk as a JSON array, keeping only
// records whose "src" field matches trafficSrc, and re-serialises
// matches as one JSON object per line. If trafficSrc is empty, or chunk
// does not decode and does not start with '[', chunk is passed through
// unchanged; a chunk that starts with '[' but does not decode as an
// array of objects yields ErrBadPacketData.
func (r *RawTCP) filterChunk(chunk []byte, trafficSrc string) ([]byte, int, error) {
	if trafficSrc == "" {
		return chunk, 1, nil
	}

	var records []map[string]json.RawMessage
	if err := json.Unmarshal(chunk, &records); err != nil {
		if len(bytes.TrimSpace(chunk)) > 0 && bytes.TrimSpace(chunk)[0] == '[' {
			return nil, 0, ErrBadPacketData
		}
		return chunk, 1, nil
	}

	var out bytes.Buffer
	count := 0
	for _, rec := range records {
		srcRaw, ok := rec["src"]
		if !ok {
			continue
		}
		var src string
		if err := json.Unmarshal(srcRaw, &src); err != nil || src != trafficSrc {
			continue
		}
		encoded, err := json.Marshal(rec)
		if err != nil {
			return nil, 0, err
		}
		out.Write(encoded)
		out.WriteByte('\n')
		count++
	}
	return out.Bytes(), count, nil
}

func applyKeepalive(conn *net.TCPConn) {
	conn.SetKeepAlive(true)
	conn.SetKeepAlivePeriod(30 * time.Second)
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return
	}
	_ = rawConn.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
	})
}

// sleepBackoff sleeps for the current backoff, doubling it up to
// rawTCPReconnectMax, and reports whether ctx is still live.
func sleepBackoff(ctx context.Context, backoff *time.Duration) bool {
	t := time.NewTimer(*backoff)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return false
	}
	*backoff *= 2
	if *backoff > rawTCPReconnectMax {
		*backoff = rawTCPReconnectMax
	}
	return true
}

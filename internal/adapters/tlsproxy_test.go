package adapters

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/oriys/skysweep/internal/sources"
	"github.com/stretchr/testify/require"
)

func TestFrameAsJSONArray(t *testing.T) {
	lines := [][]byte{[]byte(`{"a":1}`), []byte(`{"a":2}`)}
	out := frameAsJSONArray(lines)
	require.Equal(t, `[{"a":1},{"a":2}]`, string(out))
}

func TestFrameAsJSONArrayEmpty(t *testing.T) {
	out := frameAsJSONArray(nil)
	require.Equal(t, `[]`, string(out))
}

func TestTrimScheme(t *testing.T) {
	require.Equal(t, "host:5672", trimScheme("amqp://host:5672"))
	require.Equal(t, "host:5672", trimScheme("host:5672"))
}

func TestNewTLSProxyRejectsTokenCredential(t *testing.T) {
	site := sources.Site{Name: "s1", Credential: sources.CredentialBundle{Kind: sources.CredToken}}
	_, err := NewTLSProxy(site, nil)
	require.Error(t, err)
}

func TestConnectViaProxySucceedsOn200(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		line, _ := reader.ReadString('\n')
		if !strings.HasPrefix(line, "CONNECT ") {
			return
		}
		for {
			l, err := reader.ReadString('\n')
			if err != nil || l == "\r\n" {
				break
			}
		}
		conn.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n"))
		time.Sleep(100 * time.Millisecond)
	}()

	site := sources.Site{
		Name:       "s1",
		BaseURL:    "tls://upstream.test:9000",
		HTTPProxy:  "http://" + ln.Addr().String(),
		Credential: sources.CredentialBundle{Kind: sources.CredAnonymous},
	}
	adp, err := NewTLSProxy(site, nil)
	require.NoError(t, err)

	conn, err := adp.connect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, conn)
	conn.Close()
}

func TestConnectViaProxyFailsOnNon200(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		for {
			l, err := reader.ReadString('\n')
			if err != nil || l == "\r\n" {
				break
			}
		}
		conn.Write([]byte("HTTP/1.1 403 Forbidden\r\n\r\n"))
	}()

	site := sources.Site{
		Name:       "s1",
		BaseURL:    "tls://upstream.test:9000",
		HTTPProxy:  "http://" + ln.Addr().String(),
		Credential: sources.CredentialBundle{Kind: sources.CredAnonymous},
	}
	adp, err := NewTLSProxy(site, nil)
	require.NoError(t, err)

	_, err = adp.connect(context.Background())
	require.ErrorIs(t, err, ErrProxyConnectFailed)
}

package proxy

import (
	"encoding/binary"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// socks5 is a minimal no-auth SOCKS5 server supporting CONNECT to IPv4
// addresses, enough to prove traffic goes through the proxy.
func socks5(t *testing.T) (addr string, connects chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	connects = make(chan string, 8)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSocks(c, connects)
		}
	}()
	return ln.Addr().String(), connects
}

func serveSocks(c net.Conn, connects chan<- string) {
	defer c.Close()

	hdr := make([]byte, 2)
	if _, err := io.ReadFull(c, hdr); err != nil {
		return
	}
	methods := make([]byte, hdr[1])
	if _, err := io.ReadFull(c, methods); err != nil {
		return
	}
	c.Write([]byte{5, 0})

	req := make([]byte, 4)
	if _, err := io.ReadFull(c, req); err != nil || req[3] != 1 {
		return
	}
	ip := make([]byte, 4)
	port := make([]byte, 2)
	io.ReadFull(c, ip)
	io.ReadFull(c, port)
	target := net.JoinHostPort(net.IP(ip).String(), strconv.Itoa(int(binary.BigEndian.Uint16(port))))
	connects <- target

	up, err := net.Dial("tcp", target)
	if err != nil {
		c.Write([]byte{5, 5, 0, 1, 0, 0, 0, 0, 0, 0})
		return
	}
	defer up.Close()
	c.Write([]byte{5, 0, 0, 1, 0, 0, 0, 0, 0, 0})

	go io.Copy(up, c)
	io.Copy(c, up)
}

func TestNewSocksClient_RoutesThroughProxy(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "pong")
	}))
	t.Cleanup(backend.Close)

	addr, connects := socks5(t)
	client, err := NewSocksClient(addr, 5*time.Second)
	require.NoError(t, err)

	resp, err := client.Get(backend.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "pong", string(body))

	select {
	case target := <-connects:
		assert.Equal(t, backend.Listener.Addr().String(), target)
	case <-time.After(time.Second):
		t.Fatal("proxy saw no CONNECT")
	}
}

func TestNewClient(t *testing.T) {
	t.Parallel()

	direct, err := NewClient("", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, direct.Timeout)
	assert.Nil(t, direct.Transport)

	viaProxy, err := NewClient("127.0.0.1:1080", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, viaProxy.Timeout)
	assert.NotNil(t, viaProxy.Transport)
}

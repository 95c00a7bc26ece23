// Copyright 2025 The proxyd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package proxy

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxyd/proxyd/cache"
	"github.com/proxyd/proxyd/common"
	"github.com/proxyd/proxyd/protocol/phttp"
)

// fakeOrigin 进程内的 origin 服务 每条连接应答一份固定的响应
type fakeOrigin struct {
	ln       net.Listener
	response []byte

	mut          sync.Mutex
	requestLines []string
	hosts        []string
}

func newFakeOrigin(t *testing.T, response []byte) *fakeOrigin {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	fo := &fakeOrigin{ln: ln, response: response}
	go fo.serve()
	t.Cleanup(func() { ln.Close() })
	return fo
}

func (fo *fakeOrigin) serve() {
	for {
		conn, err := fo.ln.Accept()
		if err != nil {
			return
		}
		go func(conn net.Conn) {
			defer conn.Close()
			request, err := phttp.NewStreamMessageBuilder(conn).BuildRequest()
			if err != nil {
				return
			}
			fo.mut.Lock()
			fo.requestLines = append(fo.requestLines, request.RequestLine())
			fo.hosts = append(fo.hosts, request.Host()...)
			fo.mut.Unlock()
			conn.Write(fo.response)
		}(conn)
	}
}

func (fo *fakeOrigin) receivedRequests() []string {
	fo.mut.Lock()
	defer fo.mut.Unlock()
	return append([]string(nil), fo.requestLines...)
}

func newTestServer(t *testing.T, store *cache.Cache, fo *fakeOrigin) *Server {
	s, err := New("127.0.0.1", 0, "http://upstream.example.com", store, common.NewOptions())
	require.NoError(t, err)
	s.dialOrigin = func() (net.Conn, error) {
		return net.Dial("tcp", fo.ln.Addr().String())
	}
	return s
}

// roundTrip 通过 net.Pipe 驱动一次完整的连接处理 返回客户端读到的全部字节
func roundTrip(t *testing.T, s *Server, request string) []byte {
	client, remote := net.Pipe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.serveConn("test", remote); err != nil {
			t.Logf("serveConn: %v", err)
		}
	}()

	_, err := client.Write([]byte(request))
	require.NoError(t, err)

	raw, err := io.ReadAll(client)
	require.NoError(t, err)
	client.Close()
	<-done
	return raw
}

func parseResponse(t *testing.T, raw []byte) *phttp.Response {
	response, err := phttp.NewStreamMessageBuilder(bytes.NewReader(raw)).BuildResponse()
	require.NoError(t, err)
	return response
}

const originResponse = "HTTP/1.1 200 OK\r\nContent-Length: 5\r\nServer: fake\r\n\r\nhello"

func cachedBy(t *testing.T, response *phttp.Response) string {
	values, ok := response.Headers.Get("x_cached_by_proxy")
	require.True(t, ok)
	require.Len(t, values, 1)
	return values[0]
}

func TestServeConnMissThenHit(t *testing.T) {
	fo := newFakeOrigin(t, []byte(originResponse))
	store := cache.New(10, cache.PolicyLRU, 10)
	s := newTestServer(t, store, fo)

	request := "GET /products HTTP/1.1\r\nHost: client-facing\r\n\r\n"

	first := parseResponse(t, roundTrip(t, s, request))
	assert.Equal(t, "MISS", cachedBy(t, first))
	assert.Equal(t, "hello", string(first.Body))
	assert.Equal(t, 1, store.Size())

	second := parseResponse(t, roundTrip(t, s, request))
	assert.Equal(t, "HIT", cachedBy(t, second))
	assert.Equal(t, "hello", string(second.Body))

	// 命中时不会再请求 origin
	assert.Equal(t, []string{"GET /products HTTP/1.1"}, fo.receivedRequests())
}

func TestServeConnRewritesHostHeader(t *testing.T) {
	fo := newFakeOrigin(t, []byte(originResponse))
	store := cache.New(10, cache.PolicyLRU, 10)
	s := newTestServer(t, store, fo)

	roundTrip(t, s, "GET / HTTP/1.1\r\nHost: client-facing\r\n\r\n")

	fo.mut.Lock()
	defer fo.mut.Unlock()
	assert.Equal(t, []string{"upstream.example.com:80"}, fo.hosts)
}

func TestServeConnPostNeverCached(t *testing.T) {
	fo := newFakeOrigin(t, []byte(originResponse))
	store := cache.New(10, cache.PolicyLRU, 10)
	s := newTestServer(t, store, fo)

	request := "POST /submit HTTP/1.1\r\nHost: a\r\nContent-Length: 3\r\n\r\nabc"

	first := parseResponse(t, roundTrip(t, s, request))
	assert.Equal(t, "MISS", cachedBy(t, first))
	assert.Equal(t, 0, store.Size())

	second := parseResponse(t, roundTrip(t, s, request))
	assert.Equal(t, "MISS", cachedBy(t, second))
	assert.Len(t, fo.receivedRequests(), 2)
}

func TestServeConnDechunksOriginResponse(t *testing.T) {
	chunked := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	fo := newFakeOrigin(t, []byte(chunked))
	store := cache.New(10, cache.PolicyLRU, 10)
	s := newTestServer(t, store, fo)

	response := parseResponse(t, roundTrip(t, s, "GET /w HTTP/1.1\r\nHost: a\r\n\r\n"))
	assert.Equal(t, "Wikipedia", string(response.Body))

	cl, ok := response.Headers.Get("content_length")
	assert.True(t, ok)
	assert.Equal(t, []string{"9"}, cl)
	_, ok = response.Headers.Get("transfer_encoding")
	assert.False(t, ok)

	// 缓存中的副本同样为 dechunked 形式 且不携带 HIT/MISS 标记
	entry, ok := store.Get("GET /w HTTP/1.1")
	assert.True(t, ok)
	assert.Equal(t, "Wikipedia", string(entry.Body))
	assert.NotContains(t, string(entry.Header), "X-Cached-By-Proxy")
	assert.Contains(t, string(entry.Header), "Content-Length: 9")
}

func TestServeConnExpiredEntryRefetches(t *testing.T) {
	fo := newFakeOrigin(t, []byte(originResponse))
	store := cache.New(10, cache.PolicyLRU, 1)
	s := newTestServer(t, store, fo)

	request := "GET /once HTTP/1.1\r\nHost: a\r\n\r\n"

	assert.Equal(t, "MISS", cachedBy(t, parseResponse(t, roundTrip(t, s, request))))
	assert.Equal(t, "HIT", cachedBy(t, parseResponse(t, roundTrip(t, s, request))))
	// hitTTL=1 命中一次后条目过期 再次请求回源
	assert.Equal(t, "MISS", cachedBy(t, parseResponse(t, roundTrip(t, s, request))))
	assert.Len(t, fo.receivedRequests(), 2)
}

func TestServeConnOriginDown(t *testing.T) {
	store := cache.New(10, cache.PolicyLRU, 10)
	s, err := New("127.0.0.1", 0, "http://upstream.example.com", store, common.NewOptions())
	require.NoError(t, err)
	s.dialOrigin = func() (net.Conn, error) {
		return nil, newError("connection refused")
	}

	raw := roundTrip(t, s, "GET / HTTP/1.1\r\nHost: a\r\n\r\n")
	// 客户端不会收到任何响应字节 连接直接关闭
	assert.Empty(t, raw)
	assert.Equal(t, 0, store.Size())
}

func TestServeConnMalformedRequest(t *testing.T) {
	fo := newFakeOrigin(t, []byte(originResponse))
	store := cache.New(10, cache.PolicyLRU, 10)
	s := newTestServer(t, store, fo)

	client, remote := net.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- s.serveConn("test", remote)
	}()

	// header 块没有终结符 随后客户端直接断开
	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: a\r\n"))
	require.NoError(t, err)
	client.Close()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("serveConn did not return on malformed request")
	}
	assert.Empty(t, fo.receivedRequests())
	assert.Equal(t, 0, store.Size())
}

func TestListenAndServe(t *testing.T) {
	fo := newFakeOrigin(t, []byte(originResponse))
	store := cache.New(10, cache.PolicyLRU, 10)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	s, err := New("127.0.0.1", port, "http://upstream.example.com", store, common.NewOptions())
	require.NoError(t, err)
	s.dialOrigin = func() (net.Conn, error) {
		return net.Dial("tcp", fo.ln.Addr().String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- s.ListenAndServe(ctx)
	}()

	request := []byte("GET /e2e HTTP/1.1\r\nHost: a\r\n\r\n")
	fetch := func() *phttp.Response {
		var conn net.Conn
		require.Eventually(t, func() bool {
			c, err := net.Dial("tcp", s.addr())
			if err != nil {
				return false
			}
			conn = c
			return true
		}, time.Second, 10*time.Millisecond)
		defer conn.Close()

		_, err := conn.Write(request)
		require.NoError(t, err)
		raw, err := io.ReadAll(conn)
		require.NoError(t, err)
		return parseResponse(t, raw)
	}

	assert.Equal(t, "MISS", cachedBy(t, fetch()))
	assert.Equal(t, "HIT", cachedBy(t, fetch()))

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ListenAndServe did not stop on context cancel")
	}
}

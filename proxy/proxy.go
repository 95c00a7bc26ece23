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
	"context"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/proxyd/proxyd/cache"
	"github.com/proxyd/proxyd/common"
	"github.com/proxyd/proxyd/logger"
)

func newError(format string, args ...any) error {
	format = "proxy: " + format
	return errors.Errorf(format, args...)
}

const defaultDialTimeout = 10 * time.Second

// Server 缓存代理服务
//
// 监听 host:port 每条客户端连接由独立的 goroutine 处理
// accept 循环不会被任何 handler 阻塞
type Server struct {
	host        string
	port        int
	origin      Origin
	store       *cache.Cache
	dialTimeout time.Duration
	dialOrigin  func() (net.Conn, error)
}

// New 创建并返回 *Server 实例
//
// options 支持 dialTimeout 用于调节连接 origin 的超时
func New(host string, port int, originURL string, store *cache.Cache, options common.Options) (*Server, error) {
	origin, err := ParseOrigin(originURL)
	if err != nil {
		return nil, err
	}

	dialTimeout, err := options.GetDuration("dialTimeout")
	if err != nil || dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}

	s := &Server{
		host:        host,
		port:        port,
		origin:      origin,
		store:       store,
		dialTimeout: dialTimeout,
	}
	s.dialOrigin = func() (net.Conn, error) {
		return s.origin.Dial(s.dialTimeout)
	}
	return s, nil
}

func (s *Server) addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// ListenAndServe 启动 accept 循环直至 ctx 被取消
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr())
	if err != nil {
		return errors.WithMessage(err, "proxy: listen")
	}
	logger.Infof("proxy serving on address %s, forwarding to %s", ln.Addr(), s.origin.Addr())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.WithMessage(err, "proxy: accept")
		}

		acceptedConnsTotal.Inc()
		go s.handleConn(conn)
	}
}

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
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/proxyd/proxyd/cache"
	"github.com/proxyd/proxyd/internal/rescue"
	"github.com/proxyd/proxyd/logger"
	"github.com/proxyd/proxyd/protocol/phttp"
)

// cachedByHeader 每个经由代理的响应均会携带此 header
// 取值为 HIT 或者 MISS 标识响应是否来自缓存
const cachedByHeader = "x_cached_by_proxy"

func (s *Server) handleConn(conn net.Conn) {
	id := uuid.New().String()
	defer rescue.HandleCrash(id)

	logger.Infof("(%s) new connection from %s", id, conn.RemoteAddr())

	if err := s.serveConn(id, conn); err != nil {
		logger.Errorf("(%s) failed to handle request: %v", id, err)
		requestErrorsTotal.Inc()
	}
}

// serveConn 处理单条客户端连接
//
// 完整顺序为 读取请求 → 查询缓存 → 按需转发 origin → 回写客户端 → 关闭
// 出现任何错误时不向客户端回写任何内容 直接关闭两端连接
func (s *Server) serveConn(id string, client net.Conn) error {
	var origin net.Conn
	defer func() {
		errs := multierror.Append(nil, client.Close())
		if origin != nil {
			errs = multierror.Append(errs, origin.Close())
		}
		if err := errs.ErrorOrNil(); err != nil {
			logger.Debugf("(%s) close connections: %v", id, err)
		}
	}()

	request, err := phttp.NewStreamMessageBuilder(client).BuildRequest()
	if err != nil {
		return errors.WithMessage(err, "read client request")
	}
	logger.Infof("(%s) received request: %s", id, request.RequestLine())

	request.Headers.Replace("host", []string{s.origin.Addr()})

	origin, err = s.dialOrigin()
	if err != nil {
		return errors.WithMessage(err, "connect to origin")
	}
	originBuilder := phttp.NewStreamMessageBuilder(origin)

	if request.Method() != http.MethodGet {
		logger.Infof("(%s) request method is not GET, forwarding without caching", id)
		response, err := fetchOrigin(origin, originBuilder, request)
		if err != nil {
			return err
		}
		response.Headers.Insert(cachedByHeader, []string{"MISS"})
		handledRequestsTotal.WithLabelValues("miss").Inc()
		return writeResponse(client, response)
	}

	key := request.RequestLine()
	if s.store.Has(key) {
		logger.Infof("(%s) cache HIT for key: %s", id, key)
		entry, ok := s.store.Get(key)
		if !ok {
			return newError("cache entry vanished for key %q", key)
		}
		response := phttp.NewRawResponse(entry.Header, entry.Body)
		response.Headers.Insert(cachedByHeader, []string{"HIT"})
		handledRequestsTotal.WithLabelValues("hit").Inc()
		return writeResponse(client, response)
	}

	logger.Infof("(%s) cache MISS for key: %s, fetching from origin", id, key)
	response, err := fetchOrigin(origin, originBuilder, request)
	if err != nil {
		return err
	}

	// 缓存写入发生在 header stamp 之前 存储的字节不携带 HIT/MISS 标记
	s.store.Put(key, cache.Entry{Header: response.Headers.Raw(), Body: response.Body})
	response.Headers.Insert(cachedByHeader, []string{"MISS"})
	handledRequestsTotal.WithLabelValues("miss").Inc()
	return writeResponse(client, response)
}

func fetchOrigin(origin net.Conn, builder *phttp.StreamMessageBuilder, request *phttp.Request) (*phttp.Response, error) {
	if _, err := origin.Write(request.Raw()); err != nil {
		return nil, errors.WithMessage(err, "forward request to origin")
	}

	response, err := builder.BuildResponse()
	if err != nil {
		return nil, errors.WithMessage(err, "read origin response")
	}
	return response, nil
}

func writeResponse(client net.Conn, response *phttp.Response) error {
	if _, err := client.Write(response.Raw()); err != nil {
		return errors.WithMessage(err, "write response to client")
	}
	return nil
}

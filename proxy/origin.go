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
	"crypto/tls"
	"net"
	"strconv"
	"strings"
	"time"
)

// Origin 代理的唯一上游服务
//
// 端口与 TLS 开关仅由 URL scheme 决定
// https 对应 443 并开启 TLS http 对应 80 不做 URL 内嵌端口解析
type Origin struct {
	Host string
	Port int
	TLS  bool
}

// ParseOrigin 解析 origin URL
//
// host 为 `//` 之后的部分 单个结尾的 `/` 会被剔除
func ParseOrigin(rawURL string) (Origin, error) {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return Origin{}, newError("origin url must start with 'http://' or 'https://', got %q", rawURL)
	}

	parts := strings.SplitN(rawURL, "//", 2)
	host := strings.TrimSuffix(parts[1], "/")
	if host == "" {
		return Origin{}, newError("origin url %q missing host", rawURL)
	}

	origin := Origin{Host: host, Port: 80}
	if strings.HasPrefix(parts[0], "https") {
		origin.Port = 443
		origin.TLS = true
	}
	return origin, nil
}

// Addr 返回 host:port 形式的地址
func (o Origin) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Dial 建立到 origin 的连接 TLS 握手在此完成
func (o Origin) Dial(timeout time.Duration) (net.Conn, error) {
	if o.TLS {
		dialer := &net.Dialer{Timeout: timeout}
		return tls.DialWithDialer(dialer, "tcp", o.Addr(), &tls.Config{ServerName: o.Host})
	}
	return net.DialTimeout("tcp", o.Addr(), timeout)
}

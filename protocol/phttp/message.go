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

package phttp

import (
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Message HTTP 消息的通用结构 由 header 块与 body 组成
type Message struct {
	Headers *Headers
	Body    []byte
}

// Raw 返回消息的完整 wire 字节
func (m *Message) Raw() []byte {
	raw := make([]byte, 0, len(m.Headers.Raw())+len(m.Body))
	raw = append(raw, m.Headers.Raw()...)
	return append(raw, m.Body...)
}

// BodySize 返回 body 的字节数
func (m *Message) BodySize() int {
	return len(m.Body)
}

// Request HTTP 请求
type Request struct {
	Message
}

// RequestLine 返回请求行
func (r *Request) RequestLine() string {
	return r.Headers.StartLine()
}

// Method 返回大写的请求方法
func (r *Request) Method() string {
	return strings.ToUpper(strings.Split(r.RequestLine(), " ")[0])
}

// Path 返回请求路径
func (r *Request) Path() string {
	fields := strings.Split(r.RequestLine(), " ")
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

// Host 返回 host header 的取值
func (r *Request) Host() []string {
	values, _ := r.Headers.Get("host")
	return values
}

// Response HTTP 响应
type Response struct {
	Message
}

// StatusLine 返回状态行
func (r *Response) StatusLine() string {
	return r.Headers.StartLine()
}

// StreamMessageBuilder 从字节流中构建完整的 HTTP 消息
//
// framing 方式由 header 决定
// Transfer-Encoding 首个取值为 chunked 时按 chunked 读取
// 否则存在 Content-Length 时按声明长度读取 二者都没有则无 body
//
// chunked body 读取后会被改写为 Content-Length framing
// 改写后的消息即为自描述的 plain HTTP/1.1 消息
type StreamMessageBuilder struct {
	reader *StreamReader
}

// NewStreamMessageBuilder 创建并返回 *StreamMessageBuilder 实例
func NewStreamMessageBuilder(r io.Reader) *StreamMessageBuilder {
	return &StreamMessageBuilder{reader: NewStreamReader(r)}
}

// BuildRequest 读取并构建一个完整的 Request
func (b *StreamMessageBuilder) BuildRequest() (*Request, error) {
	msg, err := b.build()
	if err != nil {
		return nil, err
	}
	return &Request{Message: *msg}, nil
}

// BuildResponse 读取并构建一个完整的 Response
func (b *StreamMessageBuilder) BuildResponse() (*Response, error) {
	msg, err := b.build()
	if err != nil {
		return nil, err
	}
	return &Response{Message: *msg}, nil
}

func (b *StreamMessageBuilder) build() (*Message, error) {
	rawHeaders, err := b.reader.ReadHeaders()
	if err != nil {
		return nil, err
	}
	headers := NewHeaders(rawHeaders)

	chunked := expectChunkedBody(headers)
	if chunked {
		b.reader.SetBodyMode(BodyChunked)
	} else {
		n, err := expectedBodySize(headers)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			b.reader.SetBodyMode(BodyContentLength)
			b.reader.SetContentLength(n)
		} else {
			b.reader.SetBodyMode(BodyNoRead)
		}
	}

	body, err := b.reader.ReadBody()
	if err != nil {
		return nil, err
	}

	msg := &Message{Headers: headers, Body: body}
	if chunked {
		dechunk(msg)
	}
	return msg, nil
}

// NewRawRequest 从已捕获的原始字节构建 Request 不经过流读取
func NewRawRequest(rawHeaders, rawBody []byte) *Request {
	return &Request{Message: Message{Headers: NewHeaders(rawHeaders), Body: rawBody}}
}

// NewRawResponse 从已捕获的原始字节构建 Response 用于缓存命中路径
func NewRawResponse(rawHeaders, rawBody []byte) *Response {
	return &Response{Message: Message{Headers: NewHeaders(rawHeaders), Body: rawBody}}
}

func expectChunkedBody(h *Headers) bool {
	te, ok := h.Get("transfer_encoding")
	return ok && len(te) > 0 && te[0] == "chunked"
}

func expectedBodySize(h *Headers) (int, error) {
	cl, ok := h.Get("content_length")
	if !ok || len(cl) == 0 {
		return 0, nil
	}

	n, err := strconv.Atoi(strings.TrimSpace(cl[0]))
	if err != nil {
		return 0, errors.WithMessagef(ErrProtocol, "bad Content-Length %q", cl[0])
	}
	return n, nil
}

// dechunk 将 chunked 消息改写为 Content-Length framing
//
// 移除 Transfer-Encoding 并将 Content-Length 设置为解码后的 body 长度
func dechunk(msg *Message) {
	size := strconv.Itoa(len(msg.Body))
	msg.Headers.Delete("transfer_encoding")
	if !msg.Headers.Replace("content_length", []string{size}) {
		msg.Headers.Insert("content_length", []string{size})
	}
}

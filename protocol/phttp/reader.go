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
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"

	"github.com/proxyd/proxyd/common"
	"github.com/proxyd/proxyd/internal/splitio"
)

var (
	// ErrProtocol 代表不符合 HTTP/1.1 framing 规则的字节流
	ErrProtocol = errors.New("phttp: malformed message")

	// ErrShortRead 代表流在读满声明的长度前提前结束
	ErrShortRead = errors.New("phttp: short read")
)

var charDoubleCRLF = append([]byte("\r\n"), splitio.CharCRLF...)

// BodyMode 标识 body 的 framing 方式
type BodyMode uint8

const (
	// BodyNoRead 消息不携带 body
	BodyNoRead BodyMode = iota

	// BodyChunked Transfer-Encoding: chunked framing
	BodyChunked

	// BodyContentLength Content-Length framing
	BodyContentLength
)

// StreamReader 从 socket 字节流中读取 HTTP/1.1 framing 数据
//
// 读取顺序与协议一致 先 ReadHeaders 后 ReadBody
// 每次读取 body 前需要设置好 BodyMode
// BodyContentLength 模式下还需要设置期望读取的字节长度
type StreamReader struct {
	br            *bufio.Reader
	mode          BodyMode
	contentLength int
}

// NewStreamReader 创建并返回 *StreamReader 实例
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{
		br: bufio.NewReaderSize(r, common.ReadBufferSize),
	}
}

// SetBodyMode 设置 body 的 framing 方式
func (sr *StreamReader) SetBodyMode(mode BodyMode) {
	sr.mode = mode
}

// SetContentLength 设置 BodyContentLength 模式下期望读取的字节数
func (sr *StreamReader) SetContentLength(n int) {
	sr.contentLength = n
}

// ReadHeaders 读取首个 `\r\n\r\n` 之前（含终结符）的全部原始字节
func (sr *StreamReader) ReadHeaders() ([]byte, error) {
	var buf bytes.Buffer
	for {
		line, err := sr.br.ReadString('\n')
		buf.WriteString(line)
		if err != nil {
			return nil, errors.WithMessage(ErrProtocol, "unexpected EOF while reading headers")
		}
		if line == "\r\n" && bytes.HasSuffix(buf.Bytes(), charDoubleCRLF) {
			return buf.Bytes(), nil
		}
	}
}

// ReadBody 按照设置的 BodyMode 读取并解码 body 内容
func (sr *StreamReader) ReadBody() ([]byte, error) {
	switch sr.mode {
	case BodyChunked:
		return sr.readChunked()

	case BodyContentLength:
		return sr.readExactly(sr.contentLength)
	}
	return nil, nil
}

func (sr *StreamReader) readExactly(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(sr.br, b); err != nil {
		return nil, errors.WithMessagef(ErrShortRead, "want %d body bytes: %v", n, err)
	}
	return b, nil
}

// readChunked 读取 chunked body 并拼接出解码后的数据
//
// chunked-body = *chunk last-chunk trailer-section CRLF
// chunk = chunk-size [ chunk-ext ] CRLF chunk-data CRLF
//
// chunk-size 为十六进制 chunk extensions 直接忽略
// 读取到 0 长度块后再丢弃一行 trailer 分隔符 trailer headers 不做处理
func (sr *StreamReader) readChunked() ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	for {
		line, err := sr.br.ReadString('\n')
		if err != nil {
			return nil, errors.WithMessage(ErrProtocol, "unexpected EOF while reading chunk size")
		}

		size, err := parseChunkSize(line)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			if _, err := sr.br.ReadString('\n'); err != nil {
				return nil, errors.WithMessage(ErrProtocol, "unexpected EOF while reading trailer")
			}
			break
		}

		chunk := make([]byte, size)
		if _, err := io.ReadFull(sr.br, chunk); err != nil {
			return nil, errors.WithMessagef(ErrShortRead, "want %d chunk bytes: %v", size, err)
		}
		buf.Write(chunk)

		// 丢弃 chunk-data 末尾的 CRLF
		if _, err := sr.br.ReadString('\n'); err != nil {
			return nil, errors.WithMessage(ErrProtocol, "unexpected EOF after chunk data")
		}
	}
	return append([]byte(nil), buf.B...), nil
}

// parseChunkSize 解析 chunk-size 行 分号后的 chunk extensions 被忽略
func parseChunkSize(line string) (int, error) {
	token := strings.TrimSpace(line)
	if i := strings.IndexByte(token, ';'); i >= 0 {
		token = token[:i]
	}

	n, err := parseHexUint([]byte(strings.TrimSpace(token)))
	if err != nil {
		return 0, errors.WithMessagef(ErrProtocol, "bad chunk size line %q: %v", line, err)
	}
	return int(n), nil
}

// parseHexUint 将 16 进制所代表的字节解析成 uint64 数据类型
func parseHexUint(v []byte) (uint64, error) {
	if len(v) == 0 {
		return 0, errors.New("empty hex number for chunk length")
	}

	var n uint64
	for i, b := range v {
		switch {
		case '0' <= b && b <= '9':
			b = b - '0'
		case 'a' <= b && b <= 'f':
			b = b - 'a' + 10
		case 'A' <= b && b <= 'F':
			b = b - 'A' + 10
		default:
			return 0, errors.New("invalid byte in chunk length")
		}
		if i == 16 {
			return 0, errors.New("http chunk length too large")
		}
		n <<= 4
		n |= uint64(b)
	}
	return n, nil
}

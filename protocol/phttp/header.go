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
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/proxyd/proxyd/internal/splitio"
)

// headerLinePattern 匹配单条 header 行 形如 `Name: value`
var headerLinePattern = regexp.MustCompile(`([\w\-]+):\s*(.*)`)

// Headers 有序的 HTTP header 集合 附带 start line
//
// 内部使用规范化名称作为键 即去除首尾空白 小写化并将 `-` 替换为 `_`
// 调用方传入任意一种形式均可命中 序列化时还原成 wire 形式
// raw 字节与解析后的结构保持一致 任何修改都会重建 raw
type Headers struct {
	raw       []byte
	startLine string
	names     []string
	values    map[string][]string
}

// NewHeaders 解析 raw header 块并返回 *Headers 实例
//
// 解码时非法的 UTF-8 序列会被替换字符替代
// 折叠行（以 SP/TAB 开头）拼接到上一行 空行直接丢弃
func NewHeaders(raw []byte) *Headers {
	h := &Headers{
		raw:    raw,
		values: make(map[string][]string),
	}
	h.parse()
	return h
}

func (h *Headers) parse() {
	decoded := strings.ToValidUTF8(string(h.raw), string(utf8.RuneError))
	lines := unfoldLines(splitio.Lines([]byte(decoded)))
	if len(lines) == 0 {
		return
	}

	h.startLine = lines[0]
	for _, line := range lines[1:] {
		match := headerLinePattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}

		name := normalizeName(match[1])
		if _, ok := h.values[name]; !ok {
			h.names = append(h.names, name)
		}
		h.values[name] = append(h.values[name], strings.TrimSpace(match[2]))
	}
}

// Get 返回 name 对应的取值列表
func (h *Headers) Get(name string) ([]string, bool) {
	values, ok := h.values[normalizeName(name)]
	return values, ok
}

// Insert 追加 name 的取值 不存在时新建
func (h *Headers) Insert(name string, values []string) {
	key := normalizeName(name)
	if _, ok := h.values[key]; !ok {
		h.names = append(h.names, key)
	}
	h.values[key] = append(h.values[key], values...)
	h.rebuild()
}

// Replace 覆盖 name 的取值 仅在 name 已存在时生效
func (h *Headers) Replace(name string, values []string) bool {
	key := normalizeName(name)
	if _, ok := h.values[key]; !ok {
		return false
	}
	h.values[key] = values
	h.rebuild()
	return true
}

// Delete 删除 name 及其全部取值
func (h *Headers) Delete(name string) bool {
	key := normalizeName(name)
	if _, ok := h.values[key]; !ok {
		return false
	}

	delete(h.values, key)
	for i, n := range h.names {
		if n == key {
			h.names = append(h.names[:i], h.names[i+1:]...)
			break
		}
	}
	h.rebuild()
	return true
}

// Names 返回规范化名称列表 保持插入顺序
func (h *Headers) Names() []string {
	return append([]string(nil), h.names...)
}

// StartLine 返回 request line 或者 status line
func (h *Headers) StartLine() string {
	return h.startLine
}

// Raw 返回 header 块的 wire 字节
func (h *Headers) Raw() []byte {
	return h.raw
}

func (h *Headers) String() string {
	return string(h.raw)
}

// rebuild 从解析后的结构重建 raw 字节
//
// 同名 header 的多个取值逐行输出 不做逗号合并
func (h *Headers) rebuild() {
	var buf bytes.Buffer
	buf.WriteString(h.startLine)
	buf.Write(splitio.CharCRLF)
	for _, name := range h.names {
		for _, value := range h.values[name] {
			buf.WriteString(formatName(name))
			buf.WriteString(": ")
			buf.WriteString(value)
			buf.Write(splitio.CharCRLF)
		}
	}
	buf.Write(splitio.CharCRLF)
	h.raw = buf.Bytes()
}

// unfoldLines 展开折叠的 header 行
func unfoldLines(lines [][]byte) []string {
	var unfolded []string
	for _, raw := range lines {
		line := string(raw)
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if n := len(unfolded); n > 0 {
				unfolded[n-1] += " " + strings.TrimSpace(line)
			}
			continue
		}
		unfolded = append(unfolded, line)
	}
	return unfolded
}

func normalizeName(name string) string {
	words := strings.Split(strings.TrimSpace(name), "-")
	for i, word := range words {
		words[i] = strings.ToLower(word)
	}
	return strings.Join(words, "_")
}

func formatName(name string) string {
	words := strings.Split(name, "_")
	for i, word := range words {
		words[i] = capitalize(word)
	}
	return strings.Join(words, "-")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

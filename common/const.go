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

package common

import "time"

const (
	// App 应用程序名称
	App = "proxyd"

	// Version 应用程序版本
	Version = "v0.1.0"

	// ReadBufferSize 单条链接读缓冲区长度
	//
	// 代理两端均为真实 socket 链接 读操作经由 bufio 缓冲
	// 4K 对于绝大多数的 Header 块已经足够 更长的报文会触发多次读取
	ReadBufferSize = 4096
)

var started int64

func init() {
	started = time.Now().Unix()
}

// Started 返回进程启动时间戳
func Started() int64 {
	return started
}

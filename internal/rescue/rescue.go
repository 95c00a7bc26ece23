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

package rescue

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/proxyd/proxyd/common"
	"github.com/proxyd/proxyd/logger"
)

var crashTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: common.App,
		Name:      "crash_total",
		Help:      "Connection goroutines crashed by panic total",
	},
	[]string{"scope"},
)

// HandleCrash 捕获当前 goroutine 的 panic 并恢复执行
//
// 每条客户端连接都由独立的 goroutine 处理 单条连接的 panic
// 不允许波及 accept 循环或其他连接
// scope 标识 panic 的来源 如连接 id 同时作为计数指标的标签
func HandleCrash(scope string) {
	r := recover()
	if r == nil {
		return
	}

	crashTotal.WithLabelValues(scope).Inc()

	const size = 64 << 10
	stacktrace := make([]byte, size)
	stacktrace = stacktrace[:runtime.Stack(stacktrace, false)]
	if _, ok := r.(string); ok {
		logger.Errorf("(%s) observed a panic: %s\n%s", scope, r, stacktrace)
	} else {
		logger.Errorf("(%s) observed a panic: %#v (%v)\n%s", scope, r, r, stacktrace)
	}
}

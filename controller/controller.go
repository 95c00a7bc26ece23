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

package controller

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/proxyd/proxyd/cache"
	"github.com/proxyd/proxyd/common"
	"github.com/proxyd/proxyd/confengine"
	"github.com/proxyd/proxyd/logger"
	"github.com/proxyd/proxyd/proxy"
	"github.com/proxyd/proxyd/server"
)

// Controller 负责装配并管理所有组件的生命周期
type Controller struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       Config
	buildInfo common.BuildInfo

	store   *cache.Cache
	cleaner *cache.Cleaner
	pxy     *proxy.Server
	svr     *server.Server
}

func setupLogger(conf *confengine.Config) error {
	var opts logger.Options
	if err := conf.UnpackChild("logger", &opts); err != nil {
		return err
	}

	if opts.Level == "" {
		opts.Level = logger.EnvLevel()
	}
	if opts.Filename == "" {
		opts.Filename = "proxyd.log"
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 10
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 7
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 100
	}

	logger.SetOptions(opts)
	return nil
}

func New(conf *confengine.Config, buildInfo common.BuildInfo) (*Controller, error) {
	if err := setupLogger(conf); err != nil {
		return nil, err
	}

	var cfg Config
	if err := conf.UnpackChild("proxy", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	policy, err := cache.ParsePolicy(cfg.Cache.EvictionPolicy)
	if err != nil {
		return nil, err
	}

	logger.Infof("initializing cache with size limit: %d, eviction policy: %s, hit TTL: %d",
		cfg.Cache.SizeLimit, policy, cfg.Cache.HitTTL)
	store := cache.New(cfg.Cache.SizeLimit, policy, cfg.Cache.HitTTL)

	options := common.NewOptions()
	for k, v := range cfg.Options {
		options.Merge(k, v)
	}

	pxy, err := proxy.New(cfg.Host, cfg.Port, cfg.Origin, store, options)
	if err != nil {
		return nil, err
	}

	svr, err := server.New(conf)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		buildInfo: buildInfo,
		store:     store,
		cleaner:   cache.NewCleaner(store, cfg.Cache.CleanInterval),
		pxy:       pxy,
		svr:       svr,
	}, nil
}

// Start 启动代理 清理任务以及管理端服务
//
// 代理的 accept 循环启动失败属于致命错误 经由返回的 channel 上报
func (c *Controller) Start() <-chan error {
	c.setupServer()

	errCh := make(chan error, 1)
	go func() {
		if err := c.pxy.ListenAndServe(c.ctx); err != nil {
			errCh <- err
		}
	}()

	go c.cleaner.Run(c.ctx)

	if c.svr != nil {
		go func() {
			if err := c.svr.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("failed to start admin server: %v", err)
			}
		}()
	}

	return errCh
}

func (c *Controller) setupServer() {
	if c.svr == nil {
		return
	}

	// Metric Routes
	c.svr.RegisterGetRoute("/metrics", func(w http.ResponseWriter, r *http.Request) {
		c.recordMetrics()
		promhttp.Handler().ServeHTTP(w, r)
	})
	c.svr.RegisterGetRoute("/cache/stats", func(w http.ResponseWriter, r *http.Request) {
		b, err := json.Marshal(c.store.Stats())
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(b)
	})

	// Admin Routes
	c.svr.RegisterPostRoute("/-/cache/flush", func(w http.ResponseWriter, r *http.Request) {
		c.store.Flush()
		w.Write([]byte(`{"status": "success"}`))
	})
	c.svr.RegisterPostRoute("/-/logger", func(w http.ResponseWriter, r *http.Request) {
		level := r.FormValue("level")
		logger.SetLoggerLevel(level)
		w.Write([]byte(`{"status": "success"}`))
	})
}

func (c *Controller) Stop() {
	c.cancel()
	if c.svr != nil {
		c.svr.Close()
	}
}

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

package cmd

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"

	"github.com/spf13/cobra"

	"github.com/proxyd/proxyd/common"
	"github.com/proxyd/proxyd/confengine"
	"github.com/proxyd/proxyd/controller"
	"github.com/proxyd/proxyd/internal/sigs"
	"github.com/proxyd/proxyd/logger"
)

type serveCmdConfig struct {
	ConfigPath string
	LogFile    string

	Host   string
	Port   int
	Origin string

	CacheSizeLimit     int
	CacheCleanInterval int
	EvictionPolicy     string
	HitTTL             int

	AdminAddress string
	AdminPprof   bool
}

// Yaml 将命令行参数渲染为配置内容
func (c *serveCmdConfig) Yaml() []byte {
	text := `
logger:
  stdout: {{ .Stdout }}
  level: {{ .LogLevel }}
  filename: "{{ .LogFile }}"

proxy:
  host: "{{ .Host }}"
  port: {{ .Port }}
  origin: "{{ .Origin }}"
  cache:
    sizeLimit: {{ .CacheSizeLimit }}
    cleanInterval: {{ .CacheCleanInterval }}s
    evictionPolicy: {{ .EvictionPolicy }}
    hitTTL: {{ .HitTTL }}

server:
  enabled: {{ .AdminEnabled }}
  address: "{{ .AdminAddress }}"
  pprof: {{ .AdminPprof }}
  timeout: 10s
`
	tpl, err := template.New("Config").Parse(text)
	if err != nil {
		return nil
	}

	var buf bytes.Buffer
	err = tpl.Execute(&buf, map[string]interface{}{
		"Stdout":             c.LogFile == "",
		"LogLevel":           logger.EnvLevel(),
		"LogFile":            c.LogFile,
		"Host":               c.Host,
		"Port":               c.Port,
		"Origin":             c.Origin,
		"CacheSizeLimit":     c.CacheSizeLimit,
		"CacheCleanInterval": c.CacheCleanInterval,
		"EvictionPolicy":     c.EvictionPolicy,
		"HitTTL":             c.HitTTL,
		"AdminEnabled":       c.AdminAddress != "",
		"AdminAddress":       c.AdminAddress,
		"AdminPprof":         c.AdminPprof,
	})
	if err != nil {
		return nil
	}
	return buf.Bytes()
}

// validate 在启动前拒绝所有不合法的参数
func (c *serveCmdConfig) validate() error {
	if c.CacheSizeLimit < 0 {
		return fmt.Errorf("--cache-size-limit can not be set to negative int value")
	}
	if c.CacheCleanInterval < 0 {
		return fmt.Errorf("--cache-clean-interval can not be set to negative int value")
	}
	if c.HitTTL == 0 {
		return fmt.Errorf("--hit-ttl can not be set to 0, to disable cache use --cache-size-limit 0")
	}
	switch c.EvictionPolicy {
	case "entire", "lru", "none":
	default:
		return fmt.Errorf("--eviction-policy must be one of entire/lru/none, got %q", c.EvictionPolicy)
	}
	if !strings.HasPrefix(c.Origin, "http://") && !strings.HasPrefix(c.Origin, "https://") {
		return fmt.Errorf("origin must start with 'http://' or 'https://', got %q", c.Origin)
	}
	return nil
}

var serveConfig serveCmdConfig

var serveCmd = &cobra.Command{
	Use:   "serve [host] [port] [origin]",
	Short: "Start the caching proxy server",
	Args:  cobra.MaximumNArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		var conf *confengine.Config
		var err error

		switch {
		case serveConfig.ConfigPath != "":
			conf, err = confengine.LoadConfigPath(serveConfig.ConfigPath)

		case len(args) == 3:
			port, perr := strconv.Atoi(args[1])
			if perr != nil {
				fmt.Fprintf(os.Stderr, "invalid port %q: %v\n", args[1], perr)
				os.Exit(1)
			}
			serveConfig.Host = args[0]
			serveConfig.Port = port
			serveConfig.Origin = args[2]

			if verr := serveConfig.validate(); verr != nil {
				fmt.Fprintf(os.Stderr, "invalid arguments: %v\n", verr)
				os.Exit(1)
			}
			conf, err = confengine.LoadContent(serveConfig.Yaml())

		default:
			fmt.Fprintf(os.Stderr, "requires [host] [port] [origin] arguments or --config\n")
			os.Exit(1)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}

		ctr, err := controller.New(conf, common.BuildInfo{
			Version: version,
			GitHash: gitHash,
			Time:    buildTime,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create controller: %v\n", err)
			os.Exit(1)
		}

		errCh := ctr.Start()
		select {
		case <-sigs.Terminate():
			logger.Infof("received terminate signal, shutting down")
			ctr.Stop()

		case serveErr := <-errCh:
			fmt.Fprintf(os.Stderr, "failed to serve: %v\n", serveErr)
			ctr.Stop()
			os.Exit(1)
		}
	},
	Example: "# proxyd serve 127.0.0.1 8888 https://dummyjson.com -s 10 -e lru -t 10",
}

func init() {
	serveCmd.Flags().StringVar(&serveConfig.ConfigPath, "config", "", "Configuration file path, overrides positional arguments")
	serveCmd.Flags().StringVar(&serveConfig.LogFile, "log.file", "", "Path to log file, logs to stdout when empty")
	serveCmd.Flags().IntVarP(&serveConfig.CacheSizeLimit, "cache-size-limit", "s", 10, "Maximum number of cached responses before eviction applies. Set to 0 to disable cache")
	serveCmd.Flags().IntVarP(&serveConfig.CacheCleanInterval, "cache-clean-interval", "i", 0, "Interval (in seconds) for periodic cache cleaning. Set to 0 to disable")
	serveCmd.Flags().StringVarP(&serveConfig.EvictionPolicy, "eviction-policy", "e", "lru", "Cache eviction policy: 'entire' clears the entire cache, 'lru' drops the least recently used, 'none' is unlimited")
	serveCmd.Flags().IntVarP(&serveConfig.HitTTL, "hit-ttl", "t", 10, "How many times a response can be served from cache before expiring. Set to value < 0 for unlimited")
	serveCmd.Flags().StringVar(&serveConfig.AdminAddress, "admin.address", "", "Admin server listen address, disabled when empty")
	serveCmd.Flags().BoolVar(&serveConfig.AdminPprof, "admin.pprof", false, "Enable pprof routes on the admin server")
	rootCmd.AddCommand(serveCmd)
}

package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	Version string  `yaml:"version"`
	Sqlite  Sqlite  `yaml:"sqlite"`
	Log     Log     `yaml:"log"`
	Browser Browser `yaml:"browser"`
	Bridge  Bridge  `yaml:"bridge"`
	Capture Capture `yaml:"capture"`
}

// Sqlite 数据库配置
type Sqlite struct {
	Db     string `yaml:"db"`
	Prefix string `yaml:"prefix"`
}

// Log 日志配置
type Log struct {
	Level  string   `yaml:"level"`
	Writer []string `yaml:"writer"`
}

// Browser 浏览器启动配置
type Browser struct {
	ExecPath            string   `yaml:"execPath"`
	DevToolsURL         string   `yaml:"devToolsURL"` // 非空时附加到已运行的浏览器，不再自行启动
	RemoteDebuggingPort int      `yaml:"remoteDebuggingPort"`
	Headless            bool     `yaml:"headless"`
	UserDataDir         string   `yaml:"userDataDir"`
	Args                []string `yaml:"args"` // 追加的启动参数
}

// Bridge 控制端桥接配置
type Bridge struct {
	Listen         string   `yaml:"listen"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	StartURL       string   `yaml:"startURL"` // 控制端只发开关时打开的地址
}

// Capture 采集调优配置
type Capture struct {
	ScreenshotDebounceMS int `yaml:"screenshotDebounceMS"`
	ScreenshotQuality    int `yaml:"screenshotQuality"`
	HighlightThrottleMS  int `yaml:"highlightThrottleMS"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Version: "1.0.0",
		Sqlite: Sqlite{
			Db:     "data.db",
			Prefix: "cdptrack_",
		},
		Log: Log{
			Level: "debug",
			// file 需要在 console 之前，控制台不可写时文件日志仍然生效
			Writer: []string{"file", "console"},
		},
		Browser: Browser{
			RemoteDebuggingPort: 9222,
		},
		Bridge: Bridge{
			Listen: "127.0.0.1:8777",
			AllowedOrigins: []string{
				"http://localhost:3000",
				"https://browser.labeling.app",
			},
			StartURL: "https://www.google.com",
		},
		Capture: Capture{
			ScreenshotDebounceMS: 250,
			ScreenshotQuality:    80,
			HighlightThrottleMS:  5,
		},
	}
}

// Load 从文件加载配置，文件不存在时返回默认配置
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Logging LoggingConfig `json:"logging"`
	Engine  EngineConfig  `json:"engine"`
	Web3    Web3Config    `json:"web3"`
	Journal JournalConfig `json:"journal"`
	Notify  NotifyConfig  `json:"notify"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// LoggingConfig 控制结构化日志与审计日志输出。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志文件。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// EngineConfig 描述编排引擎自身的身份与路由配置。
type EngineConfig struct {
	// Mode 选择引擎后端：simulated 使用内存账本，rpc 驱动链上合约。
	Mode string `json:"mode"`
	// Self 是引擎账户地址，回调鉴权以它为准。
	Self string `json:"self"`
	// Operator 是允许调整费率与受托执行的管理地址。
	Operator string `json:"operator"`
	// Pool 是主资金池地址。
	Pool string `json:"pool"`
	// Bridge 是杠杆路由使用的桥接资产地址。
	Bridge string `json:"bridge"`
	// Fee 是初始费率，单位为 1e18 分之一。
	Fee string `json:"fee"`
	// RoutesFile 指向路由与协议适配器的 YAML 定义。
	RoutesFile string `json:"routes_file"`
	// Markets 是 simulated 模式下主资金池挂牌的代币地址，按市场 ID 排列。
	Markets []string `json:"markets"`
}

// Web3Config 包含访问区块链节点所需的参数，仅在 rpc 模式下使用。
type Web3Config struct {
	Name       string `json:"name"`
	RPCURL     string `json:"rpc_url"`
	PrivateKey string `json:"private_key"`
	GasLimit   uint64 `json:"gas_limit"`
}

// JournalConfig 描述步骤记录的持久化后端。
type JournalConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// NotifyConfig 描述步骤事件的广播通道。
type NotifyConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 发布通道的连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Channel  string `json:"channel"`
}

// RabbitMQConfig 描述 RabbitMQ 发布通道的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if len(c.Logging.OutputPaths) == 0 {
		c.Logging.OutputPaths = []string{"stdout"}
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(baseDir, "audit.log")
	}

	if c.Engine.Mode == "" {
		c.Engine.Mode = "simulated"
	}
	if c.Engine.Fee == "" {
		c.Engine.Fee = "0"
	}
	if c.Engine.RoutesFile == "" {
		c.Engine.RoutesFile = filepath.Join(baseDir, "routes.yaml")
	} else if !filepath.IsAbs(c.Engine.RoutesFile) {
		c.Engine.RoutesFile = filepath.Join(baseDir, c.Engine.RoutesFile)
	}

	if c.Journal.Driver == "" {
		c.Journal.Driver = "memory"
	}
	if c.Notify.Driver == "" {
		c.Notify.Driver = "none"
	}
	if c.Web3.GasLimit == 0 {
		c.Web3.GasLimit = 3_000_000
	}
}

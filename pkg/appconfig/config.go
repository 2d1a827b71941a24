package appconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wordflowlab/arbiter/pkg/types"
)

// ServerConfig HTTP服务配置。
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr 监听地址, 端口缺省为8080。
func (s *ServerConfig) Addr() string {
	port := s.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", s.Host, port)
}

// ProviderConfig 模型后端配置。
// API Key通过环境变量提供, 这里只指定env名称。
type ProviderConfig struct {
	Name      string `yaml:"name"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	EnvAPIKey string `yaml:"env_api_key,omitempty"`
}

// WorkflowConfig 一条工作流配置: 触发方式加参与的Agent。
type WorkflowConfig struct {
	ID            string              `yaml:"id"`
	Name          string              `yaml:"name,omitempty"`
	Trigger       types.TriggerConfig `yaml:"trigger"`
	Agents        []string            `yaml:"agents"`
	MaxIterations int                 `yaml:"max_iterations,omitempty"`
	Condition     string              `yaml:"condition,omitempty"`
}

// LoggingConfig 日志配置。
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // "debug" | "info" | "warn" | "error"
	File  string `yaml:"file,omitempty"`  // 为空时只写stdout
}

// Config 顶层应用配置。
type Config struct {
	Server    ServerConfig        `yaml:"server"`
	Logging   LoggingConfig       `yaml:"logging,omitempty"`
	Provider  ProviderConfig      `yaml:"provider"`
	Agents    []types.AgentConfig `yaml:"agents"`
	Workflows []WorkflowConfig    `yaml:"workflows"`
}

// Load 从指定路径加载 YAML 配置。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置内部引用的一致性:
// 工作流引用的Agent必须在agents里声明, id不得重复。
func (c *Config) Validate() error {
	agentIDs := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent with empty id")
		}
		if agentIDs[a.ID] {
			return fmt.Errorf("duplicate agent id: %s", a.ID)
		}
		agentIDs[a.ID] = true
	}

	workflowIDs := make(map[string]bool, len(c.Workflows))
	for _, w := range c.Workflows {
		if w.ID == "" {
			return fmt.Errorf("workflow with empty id")
		}
		if workflowIDs[w.ID] {
			return fmt.Errorf("duplicate workflow id: %s", w.ID)
		}
		workflowIDs[w.ID] = true

		if len(w.Agents) == 0 {
			return fmt.Errorf("workflow %s has no agents", w.ID)
		}
		for _, id := range w.Agents {
			if !agentIDs[id] {
				return fmt.Errorf("workflow %s references unknown agent: %s", w.ID, id)
			}
		}
	}
	return nil
}

// APIKey 解析Provider的API Key, 未配置env名称时返回空串。
func (p *ProviderConfig) APIKey() string {
	if p.EnvAPIKey == "" {
		return ""
	}
	return os.Getenv(p.EnvAPIKey)
}

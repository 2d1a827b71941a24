package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// NewHTTPRequestTool 创建http_request工具, 供Agent访问外部HTTP服务
func NewHTTPRequestTool() Tool {
	client := &http.Client{Timeout: 30 * time.Second}

	return &FuncTool{
		ToolName:        "http_request",
		ToolDescription: "发送HTTP请求并返回响应状态与正文",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url": map[string]interface{}{
					"type":        "string",
					"description": "请求的完整URL",
				},
				"method": map[string]interface{}{
					"type":        "string",
					"description": "HTTP方法, 默认GET",
				},
				"body": map[string]interface{}{
					"type":        "string",
					"description": "请求体(可选)",
				},
				"headers": map[string]interface{}{
					"type":        "object",
					"description": "请求头(可选)",
				},
			},
			"required": []string{"url"},
		},
		Fn: func(ctx context.Context, params map[string]interface{}) (*Result, error) {
			url := stringParam(params, "url", "")
			if url == "" {
				return &Result{Success: false, Error: "url is required"}, nil
			}

			method := strings.ToUpper(stringParam(params, "method", "GET"))
			var body io.Reader
			if b := stringParam(params, "body", ""); b != "" {
				body = strings.NewReader(b)
			}

			req, err := http.NewRequestWithContext(ctx, method, url, body)
			if err != nil {
				return &Result{Success: false, Error: err.Error()}, nil
			}

			if headers, ok := params["headers"].(map[string]interface{}); ok {
				for k, v := range headers {
					if s, ok := v.(string); ok {
						req.Header.Set(k, s)
					}
				}
			}

			resp, err := client.Do(req)
			if err != nil {
				return &Result{Success: false, Error: err.Error()}, nil
			}
			defer resp.Body.Close()

			// 限制响应体大小, 避免把超大响应塞进会话
			data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return &Result{Success: false, Error: err.Error()}, nil
			}

			return &Result{
				Success: resp.StatusCode >= 200 && resp.StatusCode < 300,
				Data: map[string]interface{}{
					"status": resp.StatusCode,
					"body":   string(data),
				},
				Metadata: map[string]interface{}{
					"url":    url,
					"method": method,
				},
			}, nil
		},
	}
}

// NewReadFileTool 创建read_file工具
func NewReadFileTool() Tool {
	return &FuncTool{
		ToolName:        "read_file",
		ToolDescription: "读取指定路径的文本文件内容",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "要读取的文件路径",
				},
			},
			"required": []string{"path"},
		},
		Fn: func(ctx context.Context, params map[string]interface{}) (*Result, error) {
			path := stringParam(params, "path", "")
			if path == "" {
				return &Result{Success: false, Error: "path is required"}, nil
			}
			if err := validatePath(path); err != nil {
				return &Result{Success: false, Error: err.Error()}, nil
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return &Result{Success: false, Error: err.Error()}, nil
			}

			return &Result{
				Success: true,
				Data:    string(data),
				Metadata: map[string]interface{}{
					"path": path,
					"size": len(data),
				},
			}, nil
		},
	}
}

// NewWriteFileTool 创建write_file工具
func NewWriteFileTool() Tool {
	return &FuncTool{
		ToolName:        "write_file",
		ToolDescription: "将文本内容写入指定路径的文件",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "目标文件路径",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "要写入的内容",
				},
			},
			"required": []string{"path", "content"},
		},
		Fn: func(ctx context.Context, params map[string]interface{}) (*Result, error) {
			path := stringParam(params, "path", "")
			if path == "" {
				return &Result{Success: false, Error: "path is required"}, nil
			}
			if err := validatePath(path); err != nil {
				return &Result{Success: false, Error: err.Error()}, nil
			}

			content := stringParam(params, "content", "")
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return &Result{Success: false, Error: err.Error()}, nil
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return &Result{Success: false, Error: err.Error()}, nil
			}

			return &Result{
				Success: true,
				Data: map[string]interface{}{
					"path": path,
					"size": len(content),
				},
			}, nil
		},
	}
}

// RegisterBuiltins 注册全部内建工具
func RegisterBuiltins(registry *Registry) {
	registry.Register(NewHTTPRequestTool())
	registry.Register(NewReadFileTool())
	registry.Register(NewWriteFileTool())
}

// stringParam 获取字符串参数
func stringParam(params map[string]interface{}, key, defaultValue string) string {
	if params == nil {
		return defaultValue
	}
	if value, ok := params[key]; ok {
		if s, ok := value.(string); ok {
			return s
		}
	}
	return defaultValue
}

// validatePath 检查路径遍历
func validatePath(path string) error {
	if strings.Contains(filepath.Clean(path), "..") {
		return fmt.Errorf("path traversal not allowed: %s", path)
	}
	return nil
}

// Package redis 封装 go-redis 客户端，并提供按名称注册、执行 Lua 脚本的能力。
package redis

import (
	"context"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"
)

// Nil 透出 go-redis 的空值错误，调用方无需直接依赖 go-redis
var Nil = goredis.Nil

// Client 内嵌 go-redis 客户端，额外维护一个脚本注册表
type Client struct {
	*goredis.Client

	mu      sync.RWMutex
	scripts map[string]*goredis.Script
}

// NewClient 创建客户端并立即 PING 一次，连接失败时返回错误
func NewClient(ctx context.Context, addr, password string, db int) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return Wrap(rdb), nil
}

// Wrap 用已有的 go-redis 客户端构造 Client
func Wrap(rdb *goredis.Client) *Client {
	return &Client{Client: rdb, scripts: make(map[string]*goredis.Script)}
}

// LoadScriptFromContent 以 name 注册一段 Lua 脚本，重复注册会覆盖
func (c *Client) LoadScriptFromContent(name, content string) error {
	if content == "" {
		return fmt.Errorf("script %q is empty", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[name] = goredis.NewScript(content)
	return nil
}

// RunScript 执行已注册的脚本 (EVALSHA，未缓存时自动回退 EVAL)
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("script %q not loaded", name)
	}
	return script.Run(ctx, c.Client, keys, args...).Result()
}

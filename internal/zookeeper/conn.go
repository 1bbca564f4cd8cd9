package zookeeper

import (
	"checkout/internal/pkg/logger"
	"fmt"
	"time"

	"github.com/go-zookeeper/zk"
)

// Conn 包装 zk.Conn，供分布式锁使用
type Conn struct {
	*zk.Conn
}

// Connect 连接 ZooKeeper 集群，sessionTimeout 决定临时节点在断连后保留多久
func Connect(servers []string, sessionTimeout time.Duration) (*Conn, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("no zookeeper servers configured")
	}
	c, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}
	logger.L().Info().Strs("servers", servers).Msg("✅ Connected to ZooKeeper")
	return &Conn{Conn: c}, nil
}

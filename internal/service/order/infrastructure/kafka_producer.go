package infrastructure

import (
	"checkout/internal/pkg/logger"
	"checkout/internal/pkg/mq"
	"sync"

	"github.com/segmentio/kafka-go"
)

// WriterPool 按主题复用 kafka writer，进程退出时统一关闭
type WriterPool struct {
	brokers []string

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func NewWriterPool(brokers []string) *WriterPool {
	return &WriterPool{brokers: brokers, writers: make(map[string]*kafka.Writer)}
}

// Writer 返回指定主题的 writer，不存在时创建
func (p *WriterPool) Writer(topic string) mq.MessageWriter {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.writers[topic]
	if !ok {
		w = mq.NewKafkaWriter(p.brokers, topic)
		p.writers[topic] = w
	}
	return w
}

func (p *WriterPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			logger.L().Error().Err(err).Str("topic", topic).Msg("Failed to close kafka writer")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	p.writers = make(map[string]*kafka.Writer)
	return firstErr
}

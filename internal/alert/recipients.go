package alert

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// RecipientDirectory 按传感器查询已配置的收件人
type RecipientDirectory interface {
	Recipients(ctx context.Context, sensorID string) ([]string, error)
}

// RecipientSource 收件人数据源（store.SensorStore 实现）
type RecipientSource interface {
	GetRecipients(ctx context.Context, sensorID string) ([]string, error)
}

// CachedRecipients 带容量上限和 TTL 的收件人缓存，按 sensor_id 缓存
type CachedRecipients struct {
	source RecipientSource
	cache  *expirable.LRU[string, []string]
}

// NewCachedRecipients 创建收件人缓存；size <= 0 时取 1，ttl <= 0 时条目不过期
func NewCachedRecipients(source RecipientSource, size int, ttl time.Duration) *CachedRecipients {
	if size <= 0 {
		size = 1
	}
	return &CachedRecipients{
		source: source,
		cache:  expirable.NewLRU[string, []string](size, nil, ttl),
	}
}

// Recipients 先查缓存，未命中时读数据源；查询失败不写缓存
func (c *CachedRecipients) Recipients(ctx context.Context, sensorID string) ([]string, error) {
	if cached, ok := c.cache.Get(sensorID); ok {
		return cloneStrings(cached), nil
	}

	recipients, err := c.source.GetRecipients(ctx, sensorID)
	if err != nil {
		return nil, err
	}
	recipients = CleanAddresses(recipients)
	c.cache.Add(sensorID, recipients)
	return cloneStrings(recipients), nil
}

// Invalidate 删除某个传感器的缓存（配置更新后调用）
func (c *CachedRecipients) Invalidate(sensorID string) {
	c.cache.Remove(sensorID)
}

// Purge 清空缓存
func (c *CachedRecipients) Purge() {
	c.cache.Purge()
}

// Len 当前缓存条目数
func (c *CachedRecipients) Len() int {
	return c.cache.Len()
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

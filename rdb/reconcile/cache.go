package reconcile

import (
	"strings"
	"sync"
	"time"

	"github.com/coocood/freecache"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hatlonely/rdbx/rdb/dialect"
)

// MetadataCache 表的列元数据缓存，key 为表名（不区分大小写）
// 由调用方创建并传给 Reconciler，表结构在进程外被修改时调用 Invalidate 或 Clear
type MetadataCache interface {
	Get(table string) ([]dialect.Column, bool)
	Set(table string, columns []dialect.Column)
	Invalidate(table string)
	Clear()
}

func cacheKey(table string) string {
	return strings.ToUpper(table)
}

// MapCache 进程内 map 缓存，不过期
type MapCache struct {
	mu      sync.RWMutex
	entries map[string][]dialect.Column
}

func NewMapCache() *MapCache {
	return &MapCache{entries: map[string][]dialect.Column{}}
}

func (c *MapCache) Get(table string) ([]dialect.Column, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cols, ok := c.entries[cacheKey(table)]
	return cols, ok
}

func (c *MapCache) Set(table string, columns []dialect.Column) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(table)] = columns
}

func (c *MapCache) Invalidate(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(table))
}

func (c *MapCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string][]dialect.Column{}
}

type FreeCacheOptions struct {
	// Size 缓存大小，单位字节，freecache 最小 512KB
	Size int `cfg:"size" def:"1048576" validate:"min=0"`
	// TTL 过期时间，0 表示不过期
	TTL time.Duration `cfg:"ttl" def:"10m"`
}

// FreeCache 基于 freecache 的有界缓存，条目用 msgpack 编码
type FreeCache struct {
	cache *freecache.Cache
	ttl   time.Duration
}

func NewFreeCacheWithOptions(options *FreeCacheOptions) *FreeCache {
	if options == nil {
		options = &FreeCacheOptions{}
	}
	size := options.Size
	if size <= 0 {
		size = 1024 * 1024
	}
	return &FreeCache{
		cache: freecache.NewCache(size),
		ttl:   options.TTL,
	}
}

func (c *FreeCache) Get(table string) ([]dialect.Column, bool) {
	buf, err := c.cache.Get([]byte(cacheKey(table)))
	if err != nil {
		return nil, false
	}
	var cols []dialect.Column
	if err := msgpack.Unmarshal(buf, &cols); err != nil {
		return nil, false
	}
	return cols, true
}

// Set 编码失败或条目过大时不缓存，下次重新读元数据
func (c *FreeCache) Set(table string, columns []dialect.Column) {
	buf, err := msgpack.Marshal(columns)
	if err != nil {
		return
	}
	_ = c.cache.Set([]byte(cacheKey(table)), buf, int(c.ttl.Seconds()))
}

func (c *FreeCache) Invalidate(table string) {
	c.cache.Del([]byte(cacheKey(table)))
}

func (c *FreeCache) Clear() {
	c.cache.Clear()
}

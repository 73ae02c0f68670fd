package sequence

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/hatlonely/rdbx/rdb/errs"
)

type RedisSequenceOptions struct {
	// host:port 地址
	Endpoint string `cfg:"endpoint" validate:"required"`

	Username string `cfg:"username"`
	Password string `cfg:"password"`

	// 连接到服务器后选择的数据库
	DB int `cfg:"db" def:"0"`

	// KeyPrefix 序列 key 的前缀
	KeyPrefix string `cfg:"keyPrefix" def:"rdb:sequence:"`

	MaxRetries   int           `cfg:"maxRetries" def:"3"`
	DialTimeout  time.Duration `cfg:"dialTimeout" def:"5s"`
	ReadTimeout  time.Duration `cfg:"readTimeout" def:"3s"`
	WriteTimeout time.Duration `cfg:"writeTimeout" def:"3s"`
}

// nextValueScript key 不存在时返回 nil，不能让 INCR 隐式创建序列
var nextValueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return false
end
return redis.call('INCR', KEYS[1]) - 1
`)

// RedisSequence 基于 redis INCR 的序列，语义与 DBSequence 一致
type RedisSequence struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewRedisSequenceWithOptions(options *RedisSequenceOptions) (*RedisSequence, error) {
	if options == nil || options.Endpoint == "" {
		return nil, errors.New("redis endpoint is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         options.Endpoint,
		Username:     options.Username,
		Password:     options.Password,
		DB:           options.DB,
		MaxRetries:   options.MaxRetries,
		DialTimeout:  options.DialTimeout,
		ReadTimeout:  options.ReadTimeout,
		WriteTimeout: options.WriteTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis ping failed")
	}
	return NewRedisSequence(client, options.KeyPrefix), nil
}

func NewRedisSequence(client redis.UniversalClient, keyPrefix string) *RedisSequence {
	if keyPrefix == "" {
		keyPrefix = "rdb:sequence:"
	}
	return &RedisSequence{client: client, keyPrefix: keyPrefix}
}

func (q *RedisSequence) key(name string) string {
	return q.keyPrefix + name
}

func (q *RedisSequence) SequenceExists(ctx context.Context, name string) (bool, error) {
	n, err := q.client.Exists(ctx, q.key(name)).Result()
	if err != nil {
		return false, errs.NewTerminal("sequenceExists", "EXISTS "+q.key(name), err)
	}
	return n > 0, nil
}

func (q *RedisSequence) CreateSequence(ctx context.Context, name string, first int64) error {
	ok, err := q.client.SetNX(ctx, q.key(name), first, 0).Result()
	if err != nil {
		return errs.NewTerminal("createSequence", "SETNX "+q.key(name), err)
	}
	if !ok {
		return errs.NewTerminal("createSequence", "SETNX "+q.key(name), errors.Wrapf(errs.ErrSequenceExists, "sequence %s", name))
	}
	return nil
}

func (q *RedisSequence) NextValue(ctx context.Context, name string) (int64, error) {
	v, err := nextValueScript.Run(ctx, q.client, []string{q.key(name)}).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, errs.NewTerminal("nextValue", "INCR "+q.key(name), errors.Wrapf(errs.ErrSequenceNotFound, "sequence %s", name))
	}
	if err != nil {
		return 0, errs.NewTerminal("nextValue", "INCR "+q.key(name), err)
	}
	return v, nil
}

func (q *RedisSequence) Close() error {
	return q.client.Close()
}

var (
	_ Provider = (*DBSequence)(nil)
	_ Provider = (*RedisSequence)(nil)
)

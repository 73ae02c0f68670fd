package executor

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hatlonely/rdbx/log"
	"github.com/hatlonely/rdbx/log/logger"
	"github.com/hatlonely/rdbx/rdb/dialect"
	"github.com/hatlonely/rdbx/rdb/errs"
)

type Options struct {
	// MaxAttempts 最大尝试次数，包括第一次
	MaxAttempts int `cfg:"maxAttempts" def:"5" validate:"min=1"`

	// BaseDelay 退避基数，第 n 次失败后等待 n*n*BaseDelay
	BaseDelay time.Duration `cfg:"baseDelay" def:"100ms"`

	// MaxQueryLogLength 日志里语句的最大长度
	MaxQueryLogLength int `cfg:"maxQueryLogLength" def:"2000"`

	// EnableMetrics 是否启用指标收集
	EnableMetrics bool `cfg:"enableMetrics" def:"false"`

	// EnableTracing 是否启用分布式追踪
	EnableTracing bool `cfg:"enableTracing" def:"false"`

	// Name 指标前缀和 tracer 名称
	Name string `cfg:"name" def:"rdb"`
}

// Policy 执行单元的恢复策略
type Policy struct {
	// ForceAutoCommit 失败后强制恢复自动提交
	ForceAutoCommit bool
	// RequiresRollback 失败后回滚挂起的事务
	RequiresRollback bool
}

// Work 一个执行单元，Run 可能被执行多次，必须可以安全地重放
type Work[T any] struct {
	Name   string
	Query  string
	Policy Policy
	Run    func(ctx context.Context, s *Session) (T, error)
}

// Executor 重试执行器
// 持有一个当前连接，同一时间只执行一个单元；遇到瞬时错误时刷新连接并按平方退避重试
type Executor struct {
	gateway Gateway
	dialect dialect.Dialect
	options Options
	// base 调用方传入的 logger，logger 是加了 executor 分组的
	base    logger.Logger
	logger  logger.Logger
	metrics *Metrics
	tracer  trace.Tracer
	// optErr 选项应用过程中的错误，由 New 返回
	optErr  error

	mu      sync.Mutex
	session *Session
	sleep   func(ctx context.Context, d time.Duration) error
}

type Option func(e *Executor)

func WithLogger(l logger.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.base = l
		}
	}
}

// WithRegisterer 指定 prometheus 注册器，默认使用全局注册器
func WithRegisterer(r prometheus.Registerer) Option {
	return func(e *Executor) {
		if e.options.EnableMetrics {
			m, err := NewMetrics(e.options.Name, r)
			if err != nil {
				e.optErr = err
				return
			}
			e.metrics = m
		}
	}
}

// WithSleep 替换退避等待，测试用
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

func New(gateway Gateway, d dialect.Dialect, options *Options, opts ...Option) (*Executor, error) {
	if gateway == nil {
		return nil, errors.New("gateway is nil")
	}
	if d == nil {
		return nil, errors.New("dialect is nil")
	}

	o := Options{}
	if options != nil {
		o = *options
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 100 * time.Millisecond
	}
	if o.MaxQueryLogLength <= 0 {
		o.MaxQueryLogLength = 2000
	}
	if o.Name == "" {
		o.Name = "rdb"
	}

	e := &Executor{
		gateway: gateway,
		dialect: d,
		options: o,
		base:    log.Default(),
		session: newSession(d),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.optErr != nil {
		return nil, errors.WithMessage(e.optErr, "failed to create metrics")
	}
	e.logger = e.base.WithGroup("executor")

	if o.EnableMetrics && e.metrics == nil {
		m, err := NewMetrics(o.Name, nil)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to create metrics")
		}
		e.metrics = m
	}
	if o.EnableTracing {
		e.tracer = otel.Tracer(fmt.Sprintf("rdb.%s", o.Name))
	}
	return e, nil
}

func (e *Executor) Dialect() dialect.Dialect {
	return e.dialect
}

func (e *Executor) Options() Options {
	return e.options
}

// Logger 调用方传入的 logger，不带 executor 分组，其他组件在此基础上加自己的分组
func (e *Executor) Logger() logger.Logger {
	return e.base
}

// Close 回滚未提交的事务并归还连接
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rerr := e.session.Rollback()
	err := e.release(e.session)
	if rerr != nil {
		return rerr
	}
	return err
}

func (e *Executor) release(s *Session) error {
	conn := s.conn
	s.reset(nil)
	s.autoCommit = true
	if conn == nil {
		return nil
	}
	return e.gateway.Release(conn)
}

// IsTransient 是否可以通过重试恢复，模型错误和 context 取消都不重试
func (e *Executor) IsTransient(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errs.IsModel(err) {
		return false
	}
	if errs.IsTransient(err) {
		return true
	}
	return e.dialect.IsTransient(err)
}

// Backoff 第 attempt 次失败后的等待时间
func (e *Executor) Backoff(attempt int) time.Duration {
	return time.Duration(attempt*attempt) * e.options.BaseDelay
}

func (e *Executor) truncate(query string) string {
	if len(query) <= e.options.MaxQueryLogLength {
		return query
	}
	return query[:e.options.MaxQueryLogLength] + "..."
}

// Exec 执行没有返回值的单元
func (e *Executor) Exec(ctx context.Context, name string, policy Policy, fn func(ctx context.Context, s *Session) error) error {
	_, err := Execute(ctx, e, Work[struct{}]{
		Name:   name,
		Policy: policy,
		Run: func(ctx context.Context, s *Session) (struct{}, error) {
			return struct{}{}, fn(ctx, s)
		},
	})
	return err
}

// ExecOnce 执行一次，不重试，用于不可重放的语句（例如 DDL）
func (e *Executor) ExecOnce(ctx context.Context, name string, fn func(ctx context.Context, s *Session) error) error {
	_, err := ExecuteOnce(ctx, e, Work[struct{}]{
		Name: name,
		Run: func(ctx context.Context, s *Session) (struct{}, error) {
			return struct{}{}, fn(ctx, s)
		},
	})
	return err
}

// Execute 执行单元，瞬时错误重试，其余错误立即返回
func Execute[T any](ctx context.Context, e *Executor, w Work[T]) (T, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var result T
	err := e.observe(ctx, w.Name, func(ctx context.Context) error {
		var err error
		result, err = execute(ctx, e, e.session, w, e.options.MaxAttempts)
		return err
	})
	return result, err
}

// ExecuteDetached 在独立的会话上执行，不占用执行器的当前连接，重试规则和 Execute 相同
// 成功时连接留给调用方（例如还没读完的结果集），用完后调用 release 归还，release 可以重复调用
func ExecuteDetached[T any](ctx context.Context, e *Executor, w Work[T]) (T, func() error, error) {
	s := newSession(e.dialect)

	var result T
	err := e.observe(ctx, w.Name, func(ctx context.Context) error {
		var err error
		result, err = execute(ctx, e, s, w, e.options.MaxAttempts)
		return err
	})
	if err != nil {
		_ = e.release(s)
		var zero T
		return zero, nil, err
	}

	var once sync.Once
	var rerr error
	return result, func() error {
		once.Do(func() {
			rerr = e.release(s)
		})
		return rerr
	}, nil
}

// ExecuteOnce 只执行一次，任何错误都是终止错误
func ExecuteOnce[T any](ctx context.Context, e *Executor, w Work[T]) (T, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var result T
	err := e.observe(ctx, w.Name, func(ctx context.Context) error {
		var err error
		result, err = execute(ctx, e, e.session, w, 1)
		return err
	})
	return result, err
}

func execute[T any](ctx context.Context, e *Executor, s *Session, w Work[T], maxAttempts int) (T, error) {
	var zero T

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, errs.NewTerminal(w.Name, w.Query, err)
		}

		result, err := runOnce(ctx, e, s, w)
		if err == nil {
			return result, nil
		}

		query := w.Query
		if query == "" {
			query = s.lastQuery
		}

		if !e.IsTransient(ctx, err) {
			if w.Policy.RequiresRollback {
				_ = s.Rollback()
			}
			if w.Policy.ForceAutoCommit {
				s.reset(s.conn)
				s.autoCommit = true
			}
			if !s.InTx() && s.autoCommit {
				_ = e.release(s)
			}
			return zero, errs.Terminal(w.Name, query, err)
		}

		e.logger.WarnContext(ctx, "transient failure",
			"operation", w.Name,
			"attempt", attempt,
			"maxAttempts", maxAttempts,
			"query", e.truncate(query),
			"error", err.Error(),
		)

		if w.Policy.RequiresRollback {
			_ = s.Rollback()
		}
		if w.Policy.ForceAutoCommit {
			s.reset(s.conn)
			s.autoCommit = true
		}

		if attempt >= maxAttempts {
			_ = e.release(s)
			if maxAttempts == 1 {
				return zero, errs.NewTerminal(w.Name, query, err)
			}
			return zero, errs.NewExhausted(w.Name, query, attempt, err)
		}

		if rerr := e.refresh(ctx, s); rerr != nil {
			return zero, errs.NewTerminal(w.Name, query, errors.WithMessage(rerr, "refresh connection failed"))
		}
		if e.metrics != nil {
			e.metrics.retryCounter.WithLabelValues(w.Name).Inc()
		}

		if err := e.sleep(ctx, e.Backoff(attempt)); err != nil {
			return zero, errs.NewTerminal(w.Name, query, err)
		}
	}
}

func runOnce[T any](ctx context.Context, e *Executor, s *Session, w Work[T]) (T, error) {
	var zero T
	if s.conn == nil {
		conn, err := e.gateway.Acquire(ctx)
		if err != nil {
			return zero, err
		}
		s.reset(conn)
	}
	return w.Run(ctx, s)
}

func (e *Executor) refresh(ctx context.Context, s *Session) error {
	fresh, err := e.gateway.Refresh(ctx, s.conn)
	status := "success"
	if err != nil {
		status = "error"
		s.reset(nil)
		s.autoCommit = true
	} else {
		s.reset(fresh)
	}
	if e.metrics != nil {
		e.metrics.refreshCounter.WithLabelValues(status).Inc()
	}
	return err
}

// observe 指标和追踪
func (e *Executor) observe(ctx context.Context, operation string, fn func(context.Context) error) error {
	start := time.Now()

	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.Start(ctx, fmt.Sprintf("rdb.%s", operation),
			trace.WithAttributes(
				attribute.String("component", e.options.Name),
				attribute.String("operation", operation),
				attribute.String("db.system", e.dialect.Name()),
			),
		)
		defer span.End()
	}

	if e.metrics != nil {
		e.metrics.activeUnits.WithLabelValues(operation).Inc()
		defer e.metrics.activeUnits.WithLabelValues(operation).Dec()
	}

	err := fn(ctx)
	duration := time.Since(start)

	if span != nil {
		span.SetAttributes(attribute.Int64("duration_ms", duration.Milliseconds()))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if e.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		e.metrics.unitCounter.WithLabelValues(operation, status).Inc()
		e.metrics.unitDuration.WithLabelValues(operation).Observe(duration.Seconds())
	}

	if err != nil {
		e.logger.DebugContext(ctx, "unit failed", "operation", operation, "duration", duration, "error", err.Error())
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var (
	_ dialect.Querier = (*sql.Conn)(nil)
	_ dialect.Querier = (*Session)(nil)
)

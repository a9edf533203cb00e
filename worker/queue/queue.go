package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"scrape-throttle/throttle/application"
	"scrape-throttle/throttle/domain"
	"scrape-throttle/throttle/infra"
)

const (
	defaultPrefix       = "queue"
	defaultPollInterval = 500 * time.Millisecond
	defaultFailedCap    = 1000
	defaultVisibility   = 10 * time.Minute
	reapInterval        = 30 * time.Second
)

// claimScript move o primeiro job com score <= agora para o set de jobs em andamento,
// com score = prazo da concessão.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
redis.call('ZREM', KEYS[1], ids[1])
redis.call('ZADD', KEYS[2], ARGV[2], ids[1])
return ids[1]
`)

// recoverScript devolve à fila os jobs em andamento cuja concessão venceu.
var recoverScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZADD', KEYS[2], ARGV[1], id)
end
return #ids
`)

// Handler processa um job. Erro faz a fila decidir entre retry e falha definitiva.
type Handler func(ctx context.Context, job Job) error

// WorkerOptions configura Process.
type WorkerOptions struct {
	// Concurrency é o máximo de jobs simultâneos neste processo (<=0 vira 1).
	Concurrency int
	// PerType limita, além de Concurrency, os jobs simultâneos de cada tipo (Job.Name).
	// Tipos ausentes só obedecem Concurrency.
	PerType map[string]int
	// AcquireTimeout é quanto um job já retirado espera vaga do seu tipo antes de voltar
	// para a fila (<=0 espera sem limite).
	AcquireTimeout time.Duration
	// Limiter limita quantos jobs começam por unidade de tempo (nil = sem limite).
	Limiter      *rate.Limiter
	PollInterval time.Duration
	// JobTimeout cancela o contexto do job (0 = sem timeout).
	JobTimeout  time.Duration
	OnCompleted func(Job)
	OnFailed    func(Job, error)
}

// Queue é uma fila nomeada sobre Redis.
type Queue struct {
	rdb       redis.Cmdable
	name      string
	prefix    string
	failedCap int64
	lease     time.Duration
	clock     func() time.Time
	logger    *zap.Logger
}

type Option func(*Queue)

func WithPrefix(prefix string) Option {
	return func(q *Queue) {
		if prefix != "" {
			q.prefix = prefix
		}
	}
}

func WithFailedCap(n int64) Option {
	return func(q *Queue) {
		if n > 0 {
			q.failedCap = n
		}
	}
}

// WithVisibilityTimeout é por quanto tempo um job retirado fica reservado ao worker.
// Vencido o prazo sem resposta (worker caiu), o job volta para a fila. Deve passar
// do JobTimeout.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.lease = d
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(q *Queue) {
		if clock != nil {
			q.clock = clock
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

func New(rdb redis.Cmdable, name string, opts ...Option) *Queue {
	q := &Queue{
		rdb:       rdb,
		name:      name,
		prefix:    defaultPrefix,
		failedCap: defaultFailedCap,
		lease:     defaultVisibility,
		clock:     time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) delayedKey() string { return q.prefix + ":" + q.name + ":delayed" }
func (q *Queue) activeKey() string  { return q.prefix + ":" + q.name + ":active" }
func (q *Queue) failedKey() string  { return q.prefix + ":" + q.name + ":failed" }

// Add enfileira um job e devolve seu id.
func (q *Queue) Add(ctx context.Context, name string, payload any, opts JobOptions) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	opts = opts.normalized()
	now := q.clock()

	job := Job{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    raw,
		Attempts:   opts.Attempts,
		BackoffMs:  opts.Backoff.Milliseconds(),
		EnqueuedAt: now.UnixMilli(),
	}
	if err := q.schedule(ctx, job, now.Add(opts.Delay)); err != nil {
		return "", err
	}
	return job.ID, nil
}

func (q *Queue) schedule(ctx context.Context, job Job, readyAt time.Time) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	// sai do set em andamento e volta para a fila na mesma transação.
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if job.raw != "" {
			pipe.ZRem(ctx, q.activeKey(), job.raw)
		}
		pipe.ZAdd(ctx, q.delayedKey(), redis.Z{
			Score:  float64(readyAt.UnixMilli()),
			Member: string(body),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// claim devolve o próximo job pronto ou (nil, nil) se não há nenhum. O job fica no set
// em andamento até ack, schedule ou fail; se ninguém responder até o fim da concessão,
// RecoverStalled o devolve.
func (q *Queue) claim(ctx context.Context) (*Job, error) {
	now := q.clock()
	res, err := claimScript.Run(ctx, q.rdb,
		[]string{q.delayedKey(), q.activeKey()},
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(now.Add(q.lease).UnixMilli(), 10),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	var job Job
	if err := json.Unmarshal([]byte(res), &job); err != nil {
		// corpo ilegível nunca vai rodar; tira do set em andamento.
		_ = q.rdb.ZRem(ctx, q.activeKey(), res).Err()
		return nil, fmt.Errorf("decode job: %w", err)
	}
	job.raw = res
	return &job, nil
}

func (q *Queue) ack(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.rdb.ZRem(ctx, q.activeKey(), job.raw).Err(); err != nil {
		q.logger.Error("ack job failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// RecoverStalled devolve à fila os jobs cuja concessão venceu e diz quantos foram.
// A tentativa não é contada: o job não chegou a terminar.
func (q *Queue) RecoverStalled(ctx context.Context) (int, error) {
	n, err := recoverScript.Run(ctx, q.rdb,
		[]string{q.activeKey(), q.delayedKey()},
		strconv.FormatInt(q.clock().UnixMilli(), 10),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("recover stalled jobs: %w", err)
	}
	return n, nil
}

func (q *Queue) reap(ctx context.Context) {
	n, err := q.RecoverStalled(ctx)
	if err != nil {
		if ctx.Err() == nil {
			q.logger.Warn("recover stalled jobs failed", zap.String("queue", q.name), zap.Error(err))
		}
		return
	}
	if n > 0 {
		q.logger.Warn("requeued stalled jobs", zap.String("queue", q.name), zap.Int("count", n))
	}
}

// Process consome a fila até ctx encerrar, esperando os jobs em andamento terminarem.
func (q *Queue) Process(ctx context.Context, handler Handler, wo WorkerOptions) error {
	if handler == nil {
		return errors.New("queue: nil handler")
	}
	if wo.PollInterval <= 0 {
		wo.PollInterval = defaultPollInterval
	}
	total := infra.NewChanPool(wo.Concurrency)
	byType := application.ConcurrencyService{
		PerType:        make(map[string]domain.SlotPool, len(wo.PerType)),
		AcquireTimeout: wo.AcquireTimeout,
	}
	for name, n := range wo.PerType {
		if n > 0 {
			byType.PerType[name] = infra.NewChanPool(n)
		}
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	q.reap(ctx)
	lastReap := q.clock()

	for {
		release, ok := total.Acquire(ctx)
		if !ok {
			return nil
		}

		if q.clock().Sub(lastReap) >= reapInterval {
			q.reap(ctx)
			lastReap = q.clock()
		}

		job, err := q.claim(ctx)
		if err != nil || job == nil {
			release()
			if err != nil && ctx.Err() == nil {
				q.logger.Warn("queue poll failed", zap.String("queue", q.name), zap.Error(err))
			}
			if application.SleepContext(ctx, wo.PollInterval) != nil {
				return nil
			}
			continue
		}

		releaseType, ok := byType.Acquire(ctx, job.Name)
		if !ok {
			release()
			if ctx.Err() != nil {
				q.requeue(*job, q.clock())
				return nil
			}
			// tipo lotado: devolve para outro worker (ou a próxima volta) pegar.
			q.requeue(*job, q.clock().Add(wo.PollInterval))
			continue
		}

		if wo.Limiter != nil {
			if err := wo.Limiter.Wait(ctx); err != nil {
				releaseType()
				release()
				q.requeue(*job, q.clock())
				return nil
			}
		}

		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			defer release()
			defer releaseType()
			q.run(ctx, handler, job, wo)
		}(*job)
	}
}

func (q *Queue) run(ctx context.Context, handler Handler, job Job, wo WorkerOptions) {
	jobCtx := ctx
	if wo.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, wo.JobTimeout)
		defer cancel()
	}

	log := q.logger.With(zap.String("queue", q.name), zap.String("job_id", job.ID), zap.String("job_type", job.Name))

	err := q.invoke(jobCtx, handler, job)
	if err == nil {
		q.ack(job)
		log.Debug("job completed", zap.Int("attempt", job.Attempt+1))
		if wo.OnCompleted != nil {
			wo.OnCompleted(job)
		}
		return
	}

	// desligamento no meio do job: devolve sem gastar tentativa.
	if ctx.Err() != nil {
		q.requeue(job, q.clock())
		return
	}

	job.Attempt++
	job.LastError = err.Error()

	if IsUnrecoverable(err) || job.Attempt >= job.Attempts {
		job.FailedAt = q.clock().UnixMilli()
		q.fail(job)
		log.Warn("job failed", zap.Int("attempt", job.Attempt), zap.Error(err))
		if wo.OnFailed != nil {
			wo.OnFailed(job, err)
		}
		return
	}

	delay := retryDelay(time.Duration(job.BackoffMs)*time.Millisecond, job.Attempt)
	log.Info("job will retry", zap.Int("attempt", job.Attempt), zap.Duration("wait", delay), zap.Error(err))
	if err := q.schedule(context.WithoutCancel(ctx), job, q.clock().Add(delay)); err != nil {
		log.Error("reschedule job failed", zap.Error(err))
	}
}

func (q *Queue) invoke(ctx context.Context, handler Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (q *Queue) requeue(job Job, readyAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.schedule(ctx, job, readyAt); err != nil {
		q.logger.Error("requeue job failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (q *Queue) fail(job Job) {
	body, err := json.Marshal(job)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if job.raw != "" {
			pipe.ZRem(ctx, q.activeKey(), job.raw)
		}
		pipe.LPush(ctx, q.failedKey(), string(body))
		pipe.LTrim(ctx, q.failedKey(), 0, q.failedCap-1)
		return nil
	})
	if err != nil {
		q.logger.Error("record failed job failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// Counts devolve quantos jobs estão aguardando, em andamento e falhos.
func (q *Queue) Counts(ctx context.Context) (waiting, active, failed int64, err error) {
	pipe := q.rdb.Pipeline()
	w := pipe.ZCard(ctx, q.delayedKey())
	a := pipe.ZCard(ctx, q.activeKey())
	f := pipe.LLen(ctx, q.failedKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, 0, fmt.Errorf("queue counts: %w", err)
	}
	return w.Val(), a.Val(), f.Val(), nil
}

// Failed devolve até limit jobs falhos, do mais recente para o mais antigo.
func (q *Queue) Failed(ctx context.Context, limit int64) ([]Job, error) {
	if limit <= 0 {
		limit = q.failedCap
	}
	raw, err := q.rdb.LRange(ctx, q.failedKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	out := make([]Job, 0, len(raw))
	for _, r := range raw {
		var j Job
		if err := json.Unmarshal([]byte(r), &j); err != nil {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

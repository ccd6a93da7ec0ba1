// File path: internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/comexa/docverifier/internal/document"
	"github.com/comexa/docverifier/internal/report"
)

// RedisStore is the alternative cache backend for deployments that already
// run Redis. Entries carry a created_at envelope so the TTL and last_access
// semantics observed by callers match the SQLite backend exactly.
type RedisStore struct {
	client *redis.Client
	cfg    Config

	now func() time.Time
}

// RedisOptions narrows the go-redis client options to what the cache needs.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// OpenRedis connects to the Redis instance and verifies it responds.
func OpenRedis(ctx context.Context, opts RedisOptions, cfg Config) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, cfg: cfg, now: time.Now}, nil
}

func documentKey(hash string, role document.Role) string {
	return "doc:" + hash + ":" + string(role)
}

func workflowKey(key string) string {
	return "wf:" + key
}

// allRoles enumerates every role slot a document entry can live under, for
// hash-wide deletes.
var allRoles = []document.Role{document.RoleBL, document.RoleInvoice, document.RolePacking, document.RoleUnknown}

type documentEnvelope struct {
	Filename  string           `json:"filename"`
	Record    *document.Record `json:"record"`
	CreatedAt time.Time        `json:"created_at"`
}

type workflowEnvelope struct {
	BLHash      string           `json:"bl_hash"`
	InvoiceHash string           `json:"invoice_hash"`
	PackingHash string           `json:"packing_hash,omitempty"`
	Report      *report.Workflow `json:"report"`
	CreatedAt   time.Time        `json:"created_at"`
	LastAccess  time.Time        `json:"last_access"`
}

func (s *RedisStore) ensureReady() error {
	if s == nil || s.client == nil {
		return ErrNotInitialised
	}
	return nil
}

// Close releases the client connection pool.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Ping verifies the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	return s.client.Ping(ctx).Err()
}

// GetDocument implements Store.
func (s *RedisStore) GetDocument(ctx context.Context, hash string, role document.Role) (*document.Record, bool, error) {
	if err := s.ensureReady(); err != nil {
		return nil, false, err
	}
	if !s.cfg.Enabled {
		return nil, false, nil
	}
	raw, err := s.client.Get(ctx, documentKey(hash, role)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get document cache: %w", err)
	}
	var env documentEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false, fmt.Errorf("decode cached document: %w", err)
	}
	if s.cfg.expired(env.CreatedAt, s.now()) {
		return nil, false, nil
	}
	return env.Record, env.Record != nil, nil
}

// PutDocument implements Store.
func (s *RedisStore) PutDocument(ctx context.Context, hash string, role document.Role, filename string, record *document.Record) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	if !s.cfg.Enabled {
		return nil
	}
	env := documentEnvelope{Filename: filename, Record: record, CreatedAt: s.now().UTC()}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode document record: %w", err)
	}
	if err := s.client.Set(ctx, documentKey(hash, role), payload, s.cfg.TTL()).Err(); err != nil {
		return fmt.Errorf("set document cache: %w", err)
	}
	return nil
}

// DeleteDocument implements Store.
func (s *RedisStore) DeleteDocument(ctx context.Context, hash string, role document.Role) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	if !s.cfg.Enabled {
		return nil
	}
	keys := make([]string, 0, len(allRoles))
	if role == "" {
		for _, r := range allRoles {
			keys = append(keys, documentKey(hash, r))
		}
	} else {
		keys = append(keys, documentKey(hash, role))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete document cache: %w", err)
	}
	return nil
}

// GetWorkflow implements Store.
func (s *RedisStore) GetWorkflow(ctx context.Context, key string) (*report.Workflow, bool, error) {
	if err := s.ensureReady(); err != nil {
		return nil, false, err
	}
	if !s.cfg.Enabled {
		return nil, false, nil
	}
	redisKey := workflowKey(key)
	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get workflow cache: %w", err)
	}
	var env workflowEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false, fmt.Errorf("decode cached workflow report: %w", err)
	}
	if s.cfg.expired(env.CreatedAt, s.now()) {
		return nil, false, nil
	}
	if env.Report == nil {
		return nil, false, nil
	}
	// Refresh last_access without touching the native expiry, which tracks
	// created_at.
	env.LastAccess = s.now().UTC()
	touched, err := json.Marshal(env)
	if err != nil {
		return nil, false, fmt.Errorf("encode workflow envelope: %w", err)
	}
	if err := s.client.Set(ctx, redisKey, touched, redis.KeepTTL).Err(); err != nil {
		return nil, false, fmt.Errorf("touch workflow cache: %w", err)
	}
	return env.Report, true, nil
}

// PutWorkflow implements Store.
func (s *RedisStore) PutWorkflow(ctx context.Context, key, blHash, invoiceHash, packingHash string, wf *report.Workflow) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	if !s.cfg.Enabled {
		return nil
	}
	now := s.now().UTC()
	env := workflowEnvelope{
		BLHash:      blHash,
		InvoiceHash: invoiceHash,
		PackingHash: packingHash,
		Report:      wf,
		CreatedAt:   now,
		LastAccess:  now,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode workflow report: %w", err)
	}
	if err := s.client.Set(ctx, workflowKey(key), payload, s.cfg.TTL()).Err(); err != nil {
		return fmt.Errorf("set workflow cache: %w", err)
	}
	return nil
}

// DeleteWorkflow implements Store.
func (s *RedisStore) DeleteWorkflow(ctx context.Context, key string) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	if !s.cfg.Enabled {
		return nil
	}
	if err := s.client.Del(ctx, workflowKey(key)).Err(); err != nil {
		return fmt.Errorf("delete workflow cache: %w", err)
	}
	return nil
}

// Package redisledger keeps each ledger table as a Redis list of JSON-encoded
// rows. Writes go through MULTI/EXEC so a table never holds half a write.
package redisledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"meetbook/internal/ledger"
	"meetbook/internal/model"
)

// Options configures the client built by Dial.
type Options struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

type Store struct {
	rdb    *redis.Client
	prefix string
	logger *zerolog.Logger
}

var _ ledger.Store = (*Store)(nil)

// Dial connects to Redis and pings it with a short timeout.
func Dial(ctx context.Context, opts Options, logger *zerolog.Logger) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Address, err)
	}
	return New(rdb, opts.Prefix, logger), nil
}

// New wraps an existing client. Keys are "<prefix>:ledger:<table>".
func New(rdb *redis.Client, prefix string, logger *zerolog.Logger) *Store {
	if prefix == "" {
		prefix = "meetbook"
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Store{rdb: rdb, prefix: prefix, logger: logger}
}

// Client exposes the underlying client for readiness checks.
func (s *Store) Client() *redis.Client {
	return s.rdb
}

func (s *Store) key(t ledger.Table) string {
	return s.prefix + ":ledger:" + string(t)
}

// rawEntry marks a single-cell row carrying a list entry that was not valid
// JSON. Such rows are written back byte for byte.
const rawEntry = "\x00raw:"

func rawRow(v string) ledger.Row {
	return ledger.Row{rawEntry + v}
}

func rawValue(r ledger.Row) (string, bool) {
	if len(r) != 1 || !strings.HasPrefix(r[0], rawEntry) {
		return "", false
	}
	return strings.TrimPrefix(r[0], rawEntry), true
}

func encodeRows(rows []ledger.Row) ([]interface{}, error) {
	out := make([]interface{}, len(rows))
	for i, r := range rows {
		if v, ok := rawValue(r); ok {
			out[i] = v
			continue
		}
		if r == nil {
			r = ledger.Row{}
		}
		b, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func (s *Store) ReadAll(ctx context.Context, table ledger.Table) ([]ledger.Row, error) {
	if err := ledger.CheckTable(table); err != nil {
		return nil, err
	}
	vals, err := s.rdb.LRange(ctx, s.key(table), 0, -1).Result()
	if err != nil {
		return nil, model.Unavailable("read "+string(table), err)
	}
	rows := make([]ledger.Row, 0, len(vals))
	for i, v := range vals {
		var r ledger.Row
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			// keep the entry in place so a later replace writes it back untouched
			s.logger.Warn().Err(err).Str("table", string(table)).Int("index", i).Msg("undecodable ledger entry")
			r = rawRow(v)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func (s *Store) Append(ctx context.Context, table ledger.Table, rows ...ledger.Row) error {
	if err := ledger.CheckTable(table); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	values, err := encodeRows(rows)
	if err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.key(table), values...)
		return nil
	})
	if err != nil {
		return model.Unavailable("append "+string(table), err)
	}
	return nil
}

func (s *Store) ReplaceAll(ctx context.Context, table ledger.Table, rows []ledger.Row) error {
	if err := ledger.CheckTable(table); err != nil {
		return err
	}
	values, err := encodeRows(rows)
	if err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}
	key := s.key(table)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.RPush(ctx, key, values...)
		}
		return nil
	})
	if err != nil {
		return model.Unavailable("replace "+string(table), err)
	}
	return nil
}

// Probe writes a short-lived key, which fails on read-only replicas and when
// the server is out of memory.
func (s *Store) Probe(ctx context.Context) error {
	if err := s.rdb.Set(ctx, s.prefix+":ledger:probe", time.Now().Unix(), 10*time.Second).Err(); err != nil {
		return model.Unavailable("probe", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

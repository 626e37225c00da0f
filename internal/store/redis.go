package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/yourname/battle-server/pkg/types"
)

var ErrNotFound = errors.New("not found")

// Store is every external lookup the battle server makes.
type Store interface {
	Songs(ctx context.Context) ([]string, error)
	PlayResult(ctx context.Context, id string) (*types.PlayResult, error)
	Profile(ctx context.Context, userID string) (*types.Profile, error)
	SaveValue(ctx context.Context, userID, path string) (string, bool, error)
	Ping(ctx context.Context) error
	Close() error
}

type RedisStore struct{ rdb *redis.Client }

const (
	songsKey = "battle:songs" // SET of track ids
	playKey  = "play:"        // HASH per stored play result
	userKey  = "user:"        // HASH per account
	saveKey  = "save:"        // HASH per account: save path -> value
)

type playRow struct {
	Score         int `redis:"score"`
	Grade         int `redis:"grade"`
	Combo         int `redis:"combo"`
	MaxCombo      int `redis:"max_combo"`
	DecryptedPlus int `redis:"decrypted_plus"`
	Decrypted     int `redis:"decrypted"`
	Received      int `redis:"received"`
	Lost          int `redis:"lost"`
}

type userRow struct {
	Username       string  `redis:"username"`
	UsernameCode   int     `redis:"username_code"`
	Rating         float64 `redis:"rating"`
	BattleRating   float64 `redis:"battle_rating"`
	Background     string  `redis:"background"`
	Title          string  `redis:"title"`
	BattleBanned   bool    `redis:"battle_banned"`
	BattleBanUntil int64   `redis:"battle_ban_until"`
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{rdb: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})}
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

func (s *RedisStore) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *RedisStore) Songs(ctx context.Context) ([]string, error) {
	songs, err := s.rdb.SMembers(ctx, songsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list songs: %w", err)
	}
	return songs, nil
}

// PlayResult returns nil without error when id is unknown.
func (s *RedisStore) PlayResult(ctx context.Context, id string) (*types.PlayResult, error) {
	var row playRow
	found, err := s.scan(ctx, playKey+id, &row)
	if err != nil {
		return nil, fmt.Errorf("play result %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &types.PlayResult{
		Score:    row.Score,
		Grade:    row.Grade,
		Combo:    row.Combo,
		MaxCombo: row.MaxCombo,
		Stats: types.PlayStats{
			DecryptedPlus: row.DecryptedPlus,
			Decrypted:     row.Decrypted,
			Received:      row.Received,
			Lost:          row.Lost,
		},
	}, nil
}

func (s *RedisStore) Profile(ctx context.Context, userID string) (*types.Profile, error) {
	var row userRow
	found, err := s.scan(ctx, userKey+userID, &row)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", userID, err)
	}
	if !found {
		return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	return &types.Profile{
		ID:             userID,
		Username:       row.Username,
		UsernameCode:   row.UsernameCode,
		Rating:         row.Rating,
		BattleRating:   row.BattleRating,
		Background:     row.Background,
		Title:          row.Title,
		BattleBanned:   row.BattleBanned,
		BattleBanUntil: row.BattleBanUntil,
	}, nil
}

// SaveValue reads one save-data path for userID.
func (s *RedisStore) SaveValue(ctx context.Context, userID, path string) (string, bool, error) {
	v, err := s.rdb.HGet(ctx, saveKey+userID, path).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("save %s %s: %w", userID, path, err)
	}
	return v, true, nil
}

func (s *RedisStore) scan(ctx context.Context, key string, dst any) (bool, error) {
	cmd := s.rdb.HGetAll(ctx, key)
	fields, err := cmd.Result()
	if err != nil {
		return false, err
	}
	if len(fields) == 0 {
		return false, nil
	}
	return true, cmd.Scan(dst)
}

// AddSongs, PutPlayResult and PutProfile seed the records the server reads.

func (s *RedisStore) AddSongs(ctx context.Context, ids ...string) error {
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return s.rdb.SAdd(ctx, songsKey, members...).Err()
}

func (s *RedisStore) PutPlayResult(ctx context.Context, id string, res types.PlayResult) error {
	return s.rdb.HSet(ctx, playKey+id, playRow{
		Score:         res.Score,
		Grade:         res.Grade,
		Combo:         res.Combo,
		MaxCombo:      res.MaxCombo,
		DecryptedPlus: res.Stats.DecryptedPlus,
		Decrypted:     res.Stats.Decrypted,
		Received:      res.Stats.Received,
		Lost:          res.Stats.Lost,
	}).Err()
}

func (s *RedisStore) PutProfile(ctx context.Context, p types.Profile, save map[string]string) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, userKey+p.ID, userRow{
		Username:       p.Username,
		UsernameCode:   p.UsernameCode,
		Rating:         p.Rating,
		BattleRating:   p.BattleRating,
		Background:     p.Background,
		Title:          p.Title,
		BattleBanned:   p.BattleBanned,
		BattleBanUntil: p.BattleBanUntil,
	})
	if len(save) > 0 {
		pipe.HSet(ctx, saveKey+p.ID, save)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put profile %s: %w", p.ID, err)
	}
	return nil
}

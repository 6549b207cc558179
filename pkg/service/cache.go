package service

import (
	"context"

	"github.com/aspirely/aspirely-cli/pkg/cache"
	"github.com/aspirely/aspirely-cli/pkg/config"
	"github.com/aspirely/aspirely-cli/pkg/container"
	"github.com/aspirely/aspirely-cli/pkg/formatter"
	"github.com/aspirely/aspirely-cli/pkg/output"
)

// CacheService inspects and clears the local envelope cache.
type CacheService struct {
	Base
}

// NewCacheService creates a new cache service
func NewCacheService(c *container.Container) *CacheService {
	return &CacheService{Base: newBase(c)}
}

type cacheEntry struct {
	Entity  string `json:"entity"`
	Present bool   `json:"present"`
	Valid   bool   `json:"valid"`
	AgeS    int64  `json:"age_seconds"`
	TTLS    int64  `json:"ttl_seconds"`
	UserID  string `json:"user_id,omitempty"`
	Bytes   int    `json:"bytes"`
}

// Status prints the state of every cached entity.
func (s *CacheService) Status(ctx context.Context) error {
	statuses := cache.Inspect(ctx, s.c.Store(), s.now())

	entries := make([]cacheEntry, 0, len(statuses))
	rows := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		entries = append(entries, cacheEntry{
			Entity:  st.Entity.Name,
			Present: st.Present,
			Valid:   st.Valid,
			AgeS:    int64(st.Age.Seconds()),
			TTLS:    int64(st.Entity.TTL.Seconds()),
			UserID:  st.UserID,
			Bytes:   st.SizeBytes,
		})

		state, age, user := "empty", "-", "-"
		if st.Present {
			age = formatter.Duration(st.Age)
			user = st.UserID
			switch {
			case st.UserID != "" && st.UserID != s.userID():
				state = formatter.Warning.Sprint("other user")
			case st.Valid:
				state = formatter.Success.Sprint("fresh")
			default:
				state = formatter.Warning.Sprint("expired")
			}
		}
		rows = append(rows, []string{st.Entity.Name, user, age, formatter.Duration(st.Entity.TTL), state})
	}

	title := "Cache (" + config.GetString("cache.backend") + ")"
	return output.PrintList(title, entries, formatter.CacheEntryHeaders, rows, "")
}

// Clear deletes every cached envelope.
func (s *CacheService) Clear(ctx context.Context) (int, error) {
	n, err := cache.Purge(ctx, s.c.Store())
	if err != nil {
		return n, err
	}
	s.c.Group().Reset()
	output.PrintSuccess("Cleared %d cached entr%s", n, plural(n, "y", "ies"))
	return n, nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

//go:build integration

package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/stretchr/testify/require"
)

// newIntegrationClient spins up a disposable Postgres container, applies the
// embedded migrations through the real NewClient path, and returns a Client
// ready for exercising the claim state machine against a real database.
func newIntegrationClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("signalrelay_test"),
		tcpostgres.WithUsername("signalrelay"),
		tcpostgres.WithPassword("signalrelay"),
		wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(30*time.Second),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	client, err := NewClient(ctx, Config{
		Host:            host,
		Port:            port.Int(),
		User:            "signalrelay",
		Password:        "signalrelay",
		Database:        "signalrelay_test",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func seedAccount(t *testing.T, c *Client, username string) {
	t.Helper()
	_, err := c.db.Exec(`INSERT INTO accounts (username, enabled) VALUES ($1, true)`, username)
	require.NoError(t, err)
}

func TestIntegrationClaimForAnalysisIsDisjointAcrossWorkers(t *testing.T) {
	c := newIntegrationClient(t)
	ctx := context.Background()
	seedAccount(t, c, "acct")

	for i := 0; i < 10; i++ {
		inserted, err := c.UpsertPost(ctx, &Post{
			ID: idFor(i), Account: "acct", Text: "x", CreatedAt: time.Now(),
		})
		require.NoError(t, err)
		require.True(t, inserted)
	}

	claimed := map[string]bool{}
	var mu sync.Mutex
	results := make(chan []Post, 4)
	for w := 0; w < 4; w++ {
		go func(id int) {
			posts, err := c.ClaimForAnalysis(ctx, workerName(id), 3)
			require.NoError(t, err)
			results <- posts
		}(w)
	}
	for w := 0; w < 4; w++ {
		posts := <-results
		mu.Lock()
		for _, p := range posts {
			require.False(t, claimed[p.ID], "post %s claimed twice", p.ID)
			claimed[p.ID] = true
		}
		mu.Unlock()
	}
}

func TestIntegrationCompleteAnalysisTransitionsStatus(t *testing.T) {
	c := newIntegrationClient(t)
	ctx := context.Background()
	seedAccount(t, c, "acct")

	_, err := c.UpsertPost(ctx, &Post{ID: "p1", Account: "acct", CreatedAt: time.Now()})
	require.NoError(t, err)

	claimed, err := c.ClaimForAnalysis(ctx, "w1", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	err = c.CompleteAnalysis(ctx, &Analysis{
		PostID: "p1", Model: "claude-test", OutputText: "done", CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	post, err := c.GetPost(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, StatusAnalyzed, post.Status)
	require.Nil(t, post.ClaimedBy)
}

func idFor(i int) string      { return fmt.Sprintf("post-%02d", i) }
func workerName(i int) string { return fmt.Sprintf("worker-%02d", i) }

package pgstate

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/TrackBot/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPGState_RepoFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "trackbot_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/trackbot_test?sslmode=disable"
	st, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.Ping(ctx))

	_, ok, err := st.Get(ctx, 1)
	require.NoError(t, err)
	require.False(t, ok)

	state := &models.ChatState{ChatID: -100500, IntervalMinutes: 10, Subscriptions: []models.Subscription{
		{TrackingCode: "SPXVN2", Alias: "b", LastNotifiedTS: 200},
		{TrackingCode: "SPXVN1", Alias: "a", LastNotifiedTS: 100},
	}}
	require.NoError(t, st.Put(ctx, state))
	require.NoError(t, st.Put(ctx, models.NewChatState(7, 5)))

	got, ok, err := st.Get(ctx, -100500)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, state, got)

	// second put is idempotent and replaces the subscription set
	state.Subscriptions = state.Subscriptions[1:]
	state.Subscriptions[0].LastNotifiedTS = 150
	require.NoError(t, st.Put(ctx, state))
	got, _, err = st.Get(ctx, -100500)
	require.NoError(t, err)
	require.Equal(t, state.Subscriptions, got.Subscriptions)

	ids, err := st.ListChatIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []models.ChatID{-100500, 7}, ids)

	require.NoError(t, st.Delete(ctx, -100500))
	_, ok, err = st.Get(ctx, -100500)
	require.NoError(t, err)
	require.False(t, ok)

	var orphaned int
	require.NoError(t, st.db.QueryRow(ctx, `SELECT count(*) FROM subscriptions`).Scan(&orphaned))
	require.Zero(t, orphaned)
}

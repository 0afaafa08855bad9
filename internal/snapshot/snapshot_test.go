package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/errdefs"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/management"
)

type stubService struct {
	takeErr  error
	clearErr error
	takes    int
	clears   []string
}

func (s *stubService) TakeSnapshot(context.Context, []string, string, string) error {
	s.takes++
	return s.takeErr
}

func (s *stubService) ClearSnapshot(ctx context.Context, tag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.clears = append(s.clears, tag)
	return s.clearErr
}

func (s *stubService) RingTokens(context.Context) ([]string, error) { return nil, nil }

var _ management.Service = (*stubService)(nil)

func TestTake_TableNeedsExactlyOneKeyspace(t *testing.T) {
	for _, keyspaces := range [][]string{nil, {"a", "b"}} {
		svc := &stubService{}
		_, err := New(svc).Take(context.Background(), keyspaces, "snap", "tbl")
		require.ErrorIs(t, err, errdefs.ErrConfiguration)
		assert.Zero(t, svc.takes)
	}

	svc := &stubService{}
	snap, err := New(svc).Take(context.Background(), []string{"ks"}, "snap", "tbl")
	require.NoError(t, err)
	assert.Equal(t, Snapshot{Tag: "snap", Keyspaces: []string{"ks"}, Table: "tbl"}, snap)
}

func TestTake_RequiresTag(t *testing.T) {
	_, err := New(&stubService{}).Take(context.Background(), nil, " ", "")
	require.ErrorIs(t, err, errdefs.ErrConfiguration)
}

func TestClear_RunsOnceAndSwallowsErrors(t *testing.T) {
	svc := &stubService{clearErr: errors.New("jmx down")}
	c := New(svc)
	_, err := c.Take(context.Background(), nil, "snap", "")
	require.NoError(t, err)

	c.Clear(context.Background())
	c.Clear(context.Background())
	assert.Equal(t, []string{"snap"}, svc.clears)
}

func TestClear_AfterFailedTake(t *testing.T) {
	svc := &stubService{takeErr: errors.New("boom")}
	c := New(svc)
	_, err := c.Take(context.Background(), nil, "snap", "")
	require.Error(t, err)

	c.Clear(context.Background())
	assert.Equal(t, []string{"snap"}, svc.clears)
}

func TestClear_IgnoresParentCancellation(t *testing.T) {
	svc := &stubService{}
	c := New(svc)
	_, err := c.Take(context.Background(), nil, "snap", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Clear(ctx)
	assert.Equal(t, []string{"snap"}, svc.clears)
}

func TestClear_WithoutTakeIsNoop(t *testing.T) {
	svc := &stubService{}
	New(svc).Clear(context.Background())
	assert.Empty(t, svc.clears)
}

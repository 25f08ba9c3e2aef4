package usage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/pride-mcp/pkg/models"
)

type memStore struct {
	mu   sync.Mutex
	rows []*models.Question
	err  error
}

func (m *memStore) StoreQuestion(ctx context.Context, q *models.Question) (int64, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.rows = append(m.rows, q)
	return int64(len(m.rows)), nil
}

type memNotifier struct {
	mu      sync.Mutex
	enabled bool
	got     []*models.Question
}

func (n *memNotifier) Enabled() bool { return n.enabled }

func (n *memNotifier) NotifyQuestion(_ context.Context, q *models.Question) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, q)
	return nil
}

type memBroadcaster struct {
	events []string
	data   []any
}

func (b *memBroadcaster) Broadcast(event string, data any) {
	b.events = append(b.events, event)
	b.data = append(b.data, data)
}

func TestRecorder_StoresScrubbedCopy(t *testing.T) {
	store := &memStore{}
	bc := &memBroadcaster{}
	r := NewRecorder(Options{Store: store, Broadcaster: bc})

	in := &models.Question{
		Question:     "analyze_with_ai: token=abcdef123456",
		ErrorMessage: "call failed with Bearer abcdefghijklmnop1234",
		Metadata:     models.JSONMap{"api_key": "secret-value"},
		Success:      false,
	}
	id, err := r.Record(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	require.Len(t, store.rows, 1)
	stored := store.rows[0]
	assert.Equal(t, "analyze_with_ai: token=[REDACTED]", stored.Question)
	assert.Equal(t, "call failed with Bearer [REDACTED]", stored.ErrorMessage)
	assert.Equal(t, "[REDACTED]", stored.Metadata["api_key"])
	assert.False(t, stored.Timestamp.IsZero())

	assert.Equal(t, "analyze_with_ai: token=abcdef123456", in.Question, "input untouched")
	assert.Equal(t, []string{EventQuestion}, bc.events)
	assert.Equal(t, int64(1), bc.data[0].(*models.Question).ID)
}

func TestRecorder_CancelledRequestStillRecorded(t *testing.T) {
	store := &memStore{}
	r := NewRecorder(Options{Store: store})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Record(ctx, &models.Question{Question: "q"})
	require.NoError(t, err)
	assert.Len(t, store.rows, 1)
}

func TestRecorder_StoreFailure(t *testing.T) {
	bc := &memBroadcaster{}
	r := NewRecorder(Options{Store: &memStore{err: errors.New("disk full")}, Broadcaster: bc})

	_, err := r.Record(context.Background(), &models.Question{Question: "q"})
	require.Error(t, err)
	assert.Empty(t, bc.events)
}

func TestRecorder_Notifies(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		notify  bool
		want    int
	}{
		{"enabled", true, true, 1},
		{"notifier disabled", false, true, 0},
		{"option off", true, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &memNotifier{enabled: tt.enabled}
			r := NewRecorder(Options{Store: &memStore{}, Notifier: n, NotifyQuestions: tt.notify})

			_, err := r.Record(context.Background(), &models.Question{Question: "q", Success: true})
			require.NoError(t, err)
			r.Wait()
			assert.Len(t, n.got, tt.want)
		})
	}
}

func TestRecorder_Nil(t *testing.T) {
	var r *Recorder
	id, err := r.Record(context.Background(), &models.Question{})
	assert.Zero(t, id)
	assert.NoError(t, err)
	r.Wait()
}

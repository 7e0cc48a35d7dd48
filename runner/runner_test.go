package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetflow/sheetflow/ai/openai"
	"github.com/sheetflow/sheetflow/ai/tracker"
	"github.com/sheetflow/sheetflow/errors"
	sftest "github.com/sheetflow/sheetflow/internal/testing"
	"github.com/sheetflow/sheetflow/prompt"
	"github.com/sheetflow/sheetflow/sheet"
)

func writeSheet(t *testing.T, content string) *sheet.Grid {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sheet.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	g, err := sheet.Load(path)
	require.NoError(t, err)
	return g
}

// fakeChat answers completion requests from a prompt-text -> content map.
type fakeChat struct {
	answers map[string]string // substring of user prompt -> JSON content
	failOn  string            // substring of user prompt that errors
	calls   int
}

func (f *fakeChat) Chat(_ context.Context, req openai.ChatRequest) (*openai.ChatResponse, error) {
	f.calls++
	if f.failOn != "" && strings.Contains(req.UserPrompt, f.failOn) {
		return nil, errors.New("upstream unavailable")
	}
	for sub, content := range f.answers {
		if strings.Contains(req.UserPrompt, sub) {
			return &openai.ChatResponse{
				Content: content,
				Model:   "gpt-4o-mini",
				Usage:   openai.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
			}, nil
		}
	}
	return &openai.ChatResponse{
		Content: `{}`,
		Model:   "gpt-4o-mini",
		Usage:   openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func activePrompts() []prompt.Prompt {
	return []prompt.Prompt{
		{Name: "sentiment", Text: "Classify: {{Review}}", Model: "gpt-4o-mini", Active: true},
	}
}

func TestRunWritesResultsAndStampsRows(t *testing.T) {
	db := sftest.CreateTestDB(t)
	tr := tracker.New(db)
	g := writeSheet(t, "Review\ngreat product\nterrible product\n")

	chat := &fakeChat{answers: map[string]string{
		"great":    `{"label":"positive","confidence":0.97}`,
		"terrible": `{"label":"negative","confidence":0.91}`,
	}}

	r := New(g, activePrompts(), chat, tr, Config{})
	res, err := r.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 2, res.Requests)
	assert.Equal(t, 2, res.Success)
	assert.Equal(t, 0, res.Failed)

	v, ok := g.Field(1, "sentiment - label")
	require.True(t, ok)
	assert.Equal(t, "positive", v)
	v, _ = g.Field(2, "sentiment - label")
	assert.Equal(t, "negative", v)
	v, _ = g.Field(1, "sentiment - confidence")
	assert.Equal(t, "0.97", v)

	// Rows are marked complete with the synchronous batch id.
	for row := 1; row <= 2; row++ {
		assert.Equal(t, sheet.StatusSubmitted, g.Status(row))
		assert.Equal(t, SyncBatchID, g.BatchID(row))
		assert.False(t, g.Eligible(row))
	}

	// Cost recorded at standard rates for gpt-4o-mini.
	stats, err := tr.GetStats(time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRequests)
	assert.InDelta(t, (2*100*0.15+2*50*0.60)/1e6, stats.TotalCost, 1e-12)
}

func TestRunHonorsRowLimitAndEligibility(t *testing.T) {
	db := sftest.CreateTestDB(t)
	g := writeSheet(t, strings.Join([]string{
		"Review,Status,Batch ID",
		"a,,",
		"b,1,0", // done by an earlier sync run
		"c,,",
		"d,,",
	}, "\n")+"\n")

	chat := &fakeChat{}
	r := New(g, activePrompts(), chat, tracker.New(db), Config{})

	res, err := r.Run(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 2, chat.calls)

	// Rows 1 and 3 were processed; row 4 remains eligible.
	assert.False(t, g.Eligible(1))
	assert.False(t, g.Eligible(3))
	assert.True(t, g.Eligible(4))
}

func TestRunIsolatesRequestFailures(t *testing.T) {
	db := sftest.CreateTestDB(t)
	tr := tracker.New(db)
	g := writeSheet(t, "Review\nfine\nbroken row\nfine too\n")

	chat := &fakeChat{failOn: "broken"}
	r := New(g, activePrompts(), chat, tr, Config{})

	res, err := r.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 2, res.Success)
	assert.Equal(t, 1, res.Failed)

	// The failed row is still stamped: a rerun never re-sends its prompts.
	assert.False(t, g.Eligible(2))

	stats, err := tr.GetStats(time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ErrorCount)
}

func TestRunRecordsUnparsableCompletion(t *testing.T) {
	db := sftest.CreateTestDB(t)
	tr := tracker.New(db)
	g := writeSheet(t, "Review\nodd\n")

	chat := &fakeChat{answers: map[string]string{"odd": `not json`}}
	r := New(g, activePrompts(), chat, tr, Config{})

	res, err := r.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, res.Success)

	stats, err := tr.GetStats(time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ErrorCount)
	// Tokens were still consumed and are still counted.
	assert.Equal(t, 1, stats.TotalRequests)
}

func TestRunRequiresActivePrompts(t *testing.T) {
	db := sftest.CreateTestDB(t)
	g := writeSheet(t, "Review\nx\n")

	r := New(g, nil, &fakeChat{}, tracker.New(db), Config{})
	_, err := r.Run(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	db := sftest.CreateTestDB(t)
	g := writeSheet(t, "Review\na\nb\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Pacing makes the cancelled context surface on the first wait.
	r := New(g, activePrompts(), &fakeChat{}, tracker.New(db), Config{RequestsPerMinute: 60})
	_, err := r.Run(ctx, 0)
	require.Error(t, err)
}

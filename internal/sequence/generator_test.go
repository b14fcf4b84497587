package sequence

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightline/outreach-engine/internal/domain"
	"github.com/brightline/outreach-engine/internal/prompts"
	"github.com/brightline/outreach-engine/internal/providers"
	"github.com/brightline/outreach-engine/internal/store"
)

type fakeLLM struct{ content string }

func (f fakeLLM) Name() string { return "fake" }
func (f fakeLLM) Chat(ctx context.Context, messages []providers.ChatMessage, opts providers.ChatOptions) (*providers.ChatResult, error) {
	return &providers.ChatResult{Content: f.content}, nil
}
func (f fakeLLM) Validate(ctx context.Context) bool { return true }

func testGenerator(t *testing.T, reply string) *Generator {
	t.Helper()
	db, _, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := providers.NewStaticRegistry()
	reg.RegisterLLM("fake", fakeLLM{content: reply})

	return &Generator{
		store:    store.New(db),
		registry: reg,
		renderer: prompts.NewRenderer(),
		now:      time.Now,
	}
}

func testInputs() *inputs {
	return &inputs{
		lead:     &domain.Lead{ID: "l1", FirstName: "Ada", CompanyName: "Acme"},
		tenant:   &domain.Tenant{ID: "t1", Name: "Brightline", LLMProvider: "fake"},
		campaign: &domain.Campaign{ID: "c1", Mode: domain.ModeMultiChannel},
	}
}

func TestGenerateMarksUnusableWriterReplies(t *testing.T) {
	ctx := context.Background()

	g := testGenerator(t, "I refuse to answer in JSON today.")
	_, err := g.generate(ctx, testInputs(), "", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errWriterReply), "unparseable reply carries the writer-failure mark")

	g = testGenerator(t, `{"strategy": {"angle": "x"}, "email_steps": [], "linkedin_steps": []}`)
	_, err = g.generate(ctx, testInputs(), "", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errWriterReply), "a stepless draft carries the writer-failure mark")
}

func TestGenerateParsesFencedWriterReply(t *testing.T) {
	g := testGenerator(t, "```json\n{\"strategy\": {\"angle\": \"pipeline\"}, \"email_steps\": [{\"step_number\": 1, \"subject\": \"s\", \"body\": \"b\"}], \"linkedin_steps\": []}\n```")

	seq, err := g.generate(context.Background(), testInputs(), "", nil)
	require.NoError(t, err)
	require.Len(t, seq.EmailSteps, 1)
	assert.Equal(t, domain.SequencePending, seq.Status)
	assert.Equal(t, "pipeline", seq.Strategy.PrimaryAngle)
}

func TestEscalateNowOnlyAfterRetry(t *testing.T) {
	marked := fmt.Errorf("%w: no object found", errWriterReply)

	assert.False(t, escalateNow(marked, 1), "first failure retries")
	assert.True(t, escalateNow(marked, 2), "second failure goes to a human")
	assert.False(t, escalateNow(errors.New("transport"), 3), "only marked failures escalate")
	assert.False(t, escalateNow(nil, 2))
}

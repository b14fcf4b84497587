package attribution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findElement(t *testing.T, els []Element, category string) Element {
	t.Helper()
	for _, el := range els {
		if el.Category == category {
			return el
		}
	}
	t.Fatalf("no element in category %s", category)
	return Element{}
}

func TestDetectElementsQuestionSubject(t *testing.T) {
	els := DetectElements("Worth 15 minutes?", "Quick one. Would a quick call next week work?", "")
	assert.Equal(t, "question", findElement(t, els, CategorySubjectLine).Name)
	assert.Equal(t, "meeting_request", findElement(t, els, CategoryCTA).Name)
	assert.Equal(t, "short", findElement(t, els, CategoryLength).Name)
}

func TestDetectElementsTriggerSubject(t *testing.T) {
	els := DetectElements("Your series funding", "Congrats on the raise! Scaling the team is hard. Thoughts?", "series funding")
	assert.Equal(t, "trigger_based", findElement(t, els, CategorySubjectLine).Name)
	assert.Equal(t, "congratulation", findElement(t, els, CategoryOpener).Name)
	assert.Equal(t, "scale", findElement(t, els, CategoryPainPoint).Name)
}

func TestDetectElementsPainPointPriority(t *testing.T) {
	els := DetectElements("Hi", "Your team spends hours on manual work and revenue suffers.", "")
	// Keyword tables are checked in a fixed order; "time" wins over "revenue".
	assert.Equal(t, "time", findElement(t, els, CategoryPainPoint).Name)
}

func TestDetectElementsDeterministic(t *testing.T) {
	a := DetectElements("Subject", "Body with pipeline concerns. Let me know.", "t")
	b := DetectElements("Subject", "Body with pipeline concerns. Let me know.", "t")
	assert.Equal(t, a, b)
}

func TestDetectElementsNoPainPointOmitsCategory(t *testing.T) {
	els := DetectElements("Hello", "Just checking in.", "")
	for _, el := range els {
		require.NotEqual(t, CategoryPainPoint, el.Category)
	}
}

func TestLengthBuckets(t *testing.T) {
	assert.Equal(t, "short", lengthBucket("one two three"))

	long := ""
	for i := 0; i < 130; i++ {
		long += "word "
	}
	assert.Equal(t, "long", lengthBucket(long))
}

package backend

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/firebase/genkit/go/genkit"

	"github.com/docsage/docsage/internal/testutil"
)

func newTestGenerator(t *testing.T, mock *testutil.MockModel) *Generator {
	t.Helper()
	g := genkit.Init(context.Background())
	if g == nil {
		t.Fatal("initializing genkit")
	}
	mock.Register(g)
	return NewGenerator(g, "mock/test-model", time.Second, testutil.DiscardLogger())
}

func TestGenerateReturnsText(t *testing.T) {
	mock := testutil.NewMockModel("fallback answer")
	mock.AddResponse("backup schedule", "Backups run nightly at 02:00 [Source 1].")
	gen := newTestGenerator(t, mock)

	got, err := gen.Generate(context.Background(), "what is the backup schedule?", GenerateParams{
		System:      "answer from sources only",
		Temperature: 0.2,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(got, "Backups run nightly") {
		t.Errorf("Generate returned %q", got)
	}

	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("model called %d times, want 1", len(calls))
	}
	if calls[0].System != "answer from sources only" {
		t.Errorf("system prompt = %q, want the configured one", calls[0].System)
	}
}

func TestGenerateEmptyResponse(t *testing.T) {
	mock := testutil.NewMockModel("")
	gen := newTestGenerator(t, mock)

	_, err := gen.Generate(context.Background(), "question", GenerateParams{})
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("error = %v, want ErrInvalidResponse", err)
	}
}

func TestGenerateBackendFailure(t *testing.T) {
	mock := testutil.NewMockModel("never returned")
	mock.Err = errors.New("model crashed")
	gen := newTestGenerator(t, mock)

	_, err := gen.Generate(context.Background(), "question", GenerateParams{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
}

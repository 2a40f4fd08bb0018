package verdict

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func results(statuses ...Status) []ExecutionResult {
	out := make([]ExecutionResult, len(statuses))
	for i, s := range statuses {
		out[i] = ExecutionResult{Status: s}
	}
	return out
}

func TestWorst(t *testing.T) {
	tests := []struct {
		name string
		in   []ExecutionResult
		want Status
	}{
		{name: "empty", in: nil, want: Accepted},
		{name: "all accepted", in: results(Accepted, Accepted), want: Accepted},
		{name: "wrong answer", in: results(Accepted, WrongAnswer, Accepted), want: WrongAnswer},
		{name: "tle beats wa", in: results(WrongAnswer, TimeLimitExceeded), want: TimeLimitExceeded},
		{name: "re beats tle", in: results(TimeLimitExceeded, RuntimeError, WrongAnswer), want: RuntimeError},
		{name: "ce beats everything", in: results(RuntimeError, CompilationError, Accepted), want: CompilationError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Worst(tt.in))
		})
	}
}

func TestWorstIsOrderIndependent(t *testing.T) {
	in := results(Accepted, WrongAnswer, TimeLimitExceeded, Accepted, RuntimeError, WrongAnswer)
	want := Worst(in)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 50; i++ {
		shuffled := append([]ExecutionResult(nil), in...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, Worst(shuffled))
	}
}

func TestTerminal(t *testing.T) {
	assert.False(t, Pending.Terminal())
	assert.False(t, Processing.Terminal())
	assert.True(t, SystemError.Terminal())
	assert.True(t, Accepted.Terminal())
	assert.True(t, CompilationError.Terminal())
}

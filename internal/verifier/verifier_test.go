package verifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/taletwo/internal/llm/llmfake"
	"github.com/vampirenirmal/taletwo/internal/storymodel"
)

func TestVerifyPendingBeforeNext_Done(t *testing.T) {
	fake := llmfake.New().Enqueue("verify.substep", `{"done": true}`)
	v := New(fake, nil)

	pending := &storymodel.PendingVerify{SubText: "reach the gate", PointIndex: 0, SubIndex: 1}
	done, err := v.VerifyPendingBeforeNext(context.Background(), pending, []string{"she reached the gate at dusk"}, nil)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestVerifyPendingBeforeNext_NotDone(t *testing.T) {
	fake := llmfake.New().Enqueue("verify.substep", `{"done": false}`)
	v := New(fake, nil)

	pending := &storymodel.PendingVerify{SubText: "reach the gate"}
	done, err := v.VerifyPendingBeforeNext(context.Background(), pending, nil, nil)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestVerifyPendingBeforeNext_NilPending(t *testing.T) {
	v := New(llmfake.New(), nil)
	done, err := v.VerifyPendingBeforeNext(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestVerifyPendingBeforeNext_TransportErrorTreatedAsNotDone(t *testing.T) {
	fake := llmfake.New().EnqueueError("verify.substep", errors.New("boom"))
	v := New(fake, nil)

	pending := &storymodel.PendingVerify{SubText: "reach the gate"}
	done, err := v.VerifyPendingBeforeNext(context.Background(), pending, nil, nil)
	assert.Error(t, err)
	assert.False(t, done)
}

package sbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hoofworks/paddock/go/bus"
)

// The scenario table mirrors the one in the rabbit adapter's tests:
// both providers must settle the same handler results the same way.
func TestResultSettlementMapping(t *testing.T) {
	var cases = []struct {
		name   string
		result bus.ProcessingResult
		expect settlement
	}{
		{"success acks", bus.Success(), settleComplete},
		{"transient failure requeues", bus.Failure(errors.New("db deadlock"), true), settleAbandon},
		{"permanent failure dead-letters", bus.Failure(errors.New("invariant violated"), false), settleDeadLetter},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expect, settlementFor(tc.result))
		})
	}
}

func TestInvokeConvertsPanicToRejection(t *testing.T) {
	var s = &ServiceBus{rootCtx: context.Background()}
	var handler = func(context.Context, []byte, bus.MessageContext) bus.ProcessingResult {
		panic("poison body")
	}

	var result = s.invoke(handler, nil, bus.MessageContext{MessageID: "m1"})
	require.False(t, result.Ok())
	require.False(t, result.Requeue())
	require.ErrorContains(t, result.Err(), "poison body")
	require.Equal(t, settleDeadLetter, settlementFor(result))
}

func TestInvokeRunsHandlerOnConnectionContext(t *testing.T) {
	var ctx, cancel = context.WithCancel(context.Background())
	cancel()

	var sawErr error
	var s = &ServiceBus{rootCtx: ctx}
	var handler = func(hctx context.Context, _ []byte, _ bus.MessageContext) bus.ProcessingResult {
		sawErr = hctx.Err()
		return bus.Failure(hctx.Err(), true)
	}

	var result = s.invoke(handler, nil, bus.MessageContext{MessageID: "m1"})
	require.ErrorIs(t, sawErr, context.Canceled)
	require.Equal(t, settleAbandon, settlementFor(result))
}

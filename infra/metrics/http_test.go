package metrics

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	coremetrics "github.com/kilianp07/roster/core/metrics"
	"github.com/kilianp07/roster/test/util"
)

func TestStartPromServer(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	sink, err := NewPromSink(coremetrics.Config{})
	require.NoError(t, err)
	require.NoError(t, sink.(*PromSink).RecordLock(coremetrics.LockEvent{PlanID: "p1"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- StartPromServer(ctx, addr) }()

	wctx, wcancel := context.WithTimeout(ctx, util.MetricTimeout)
	defer wcancel()
	require.NoError(t, util.WaitForMetric(wctx, "http://"+addr+"/metrics", "roster_plans_locked_total"))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("prom server did not stop")
	}
}

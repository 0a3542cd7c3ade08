//go:build integration

package mqtt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/roster/core/events"
	"github.com/kilianp07/roster/core/model"
	coremqtt "github.com/kilianp07/roster/core/mqtt"
	"github.com/kilianp07/roster/test/util"
)

func TestMosquittoRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	broker, cleanup, err := util.StartMosquitto(ctx)
	if err != nil {
		t.Skipf("mosquitto container unavailable: %v", err)
	}
	t.Cleanup(cleanup)

	cmds := make(chan coremqtt.DisruptionCommand, 1)
	cli, err := NewPahoClient(Config{Broker: broker, ClientID: "roster-test", QoS: map[string]byte{"events": 1, "disruptions": 1}},
		func(_ context.Context, cmd coremqtt.DisruptionCommand) error {
			cmds <- cmd
			return nil
		})
	require.NoError(t, err)
	defer cli.Disconnect()

	watcher := paho.NewClient(paho.NewClientOptions().AddBroker(broker).SetClientID("watcher"))
	tok := watcher.Connect()
	tok.Wait()
	require.NoError(t, tok.Error())
	defer watcher.Disconnect(100)

	got := make(chan events.Event, 1)
	tok = watcher.Subscribe(cli.EventTopic("p1"), 1, func(_ paho.Client, m paho.Message) {
		var ev events.Event
		if json.Unmarshal(m.Payload(), &ev) == nil {
			got <- ev
		}
	})
	tok.Wait()
	require.NoError(t, tok.Error())

	require.NoError(t, cli.PublishEvent(events.Status("p1", model.PlanSolved, "solved")))
	select {
	case ev := <-got:
		require.Equal(t, "p1", ev.PlanID)
	case <-ctx.Done():
		t.Fatal("event not received")
	}

	tok = watcher.Publish(cli.DisruptionTopic(), 1, false, `{"plan_id":"p1","disruption":{"type":"DELAY","tours":["fp:0"],"delay_minutes":30}}`)
	tok.Wait()
	require.NoError(t, tok.Error())
	select {
	case cmd := <-cmds:
		require.Equal(t, model.EventDelay, cmd.Disruption.Type)
		require.Equal(t, 30, cmd.Disruption.DelayMinutes)
	case <-ctx.Done():
		t.Fatal("disruption not received")
	}
}

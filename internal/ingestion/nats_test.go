package ingestion_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"TaniLedger/internal/core"
	"TaniLedger/internal/event"
	"TaniLedger/internal/ingestion"
	"TaniLedger/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandSubscriber_RoundTrip(t *testing.T) {
	url := testutil.RequireNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	nc, js, err := ingestion.ConnectNATS(url, zerolog.Nop())
	require.NoError(t, err)
	defer nc.Close()
	require.NoError(t, ingestion.EnsureStreams(ctx, js, zerolog.Nop()))

	sub := ingestion.NewSubmitter(startRunner(t), newCache(t), nil, zerolog.Nop())
	cs := ingestion.NewCommandSubscriber(nc, js, sub, zerolog.Nop())
	require.NoError(t, cs.Subscribe(ctx))
	defer cs.Stop()

	okID := "nats-" + uuid.NewString()
	badID := "nats-" + uuid.NewString()
	okResults, err := nc.SubscribeSync(ingestion.ResultSubject(okID))
	require.NoError(t, err)
	badResults, err := nc.SubscribeSync(ingestion.ResultSubject(badID))
	require.NoError(t, err)

	publish := func(id, payload string) {
		data := fmt.Sprintf(`{"type":"registerAsset","request_id":%q,"payload":%s}`, id, payload)
		_, err := js.Publish(ctx, "tani.commands.registry", []byte(data))
		require.NoError(t, err)
	}
	publish(okID, `{"owner":"0xo","asset_type":"Crop","name":"Kopi","total_supply":5,"unit_price":3}`)
	publish(badID, `{"owner":"0xo","asset_type":"Crop","name":"Kopi","total_supply":-1,"unit_price":3}`)

	var res ingestion.Result
	msg, err := okResults.NextMsg(10 * time.Second)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(msg.Data, &res))
	require.Nil(t, res.Error)
	require.NotNil(t, res.Receipt)
	assert.Equal(t, event.EventTypeAssetRegistered, res.Receipt.EventType)

	res = ingestion.Result{}
	msg, err = badResults.NextMsg(10 * time.Second)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(msg.Data, &res))
	require.NotNil(t, res.Error)
	assert.Equal(t, "InvalidArgument", res.Error.Name)
}

func TestOutboundPublisher_PublishesRecords(t *testing.T) {
	url := testutil.RequireNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	nc, js, err := ingestion.ConnectNATS(url, zerolog.Nop())
	require.NoError(t, err)
	defer nc.Close()
	require.NoError(t, ingestion.EnsureStreams(ctx, js, zerolog.Nop()))

	events, err := nc.SubscribeSync(ingestion.EventSubjectFor(event.EventTypeFundsWithdrawn))
	require.NoError(t, err)

	pub := ingestion.NewOutboundPublisher(js, 8, nil, zerolog.Nop())
	go pub.Run(ctx)

	rec := &event.LedgerEvent{Sequence: 9, Kind: event.EventTypeFundsWithdrawn, RequestID: uuid.NewString(), Participants: []string{"0xh"}, Payment: 12}
	pub.Enqueue([]core.CoreOutput{{Envelope: &event.EventEnvelope{Sequence: 9, IdempotencyKey: rec.RequestID, Record: rec}}})

	msg, err := events.NextMsg(10 * time.Second)
	require.NoError(t, err)
	got, err := event.DecodeRecord(msg.Data)
	require.NoError(t, err)
	assert.Equal(t, rec.RequestID, got.RequestID)
	assert.Equal(t, int64(12), got.Payment)
}

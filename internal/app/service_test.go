package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readback/api/internal/content"
	"readback/api/internal/notify"
)

type failingBroker struct {
	notify.LocalBroker
}

func (b *failingBroker) Publish(context.Context, notify.Event) error {
	return errors.New("broker offline")
}

func TestServiceWithoutOptionalBackends(t *testing.T) {
	svc := New(&memStore{}, Options{})

	assert.Equal(t, Status{Storage: "file"}, svc.Status())

	commits, err := svc.History(10)
	require.NoError(t, err)
	assert.Empty(t, commits)

	_, _, err = svc.Revision("abc1234")
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "HISTORY_DISABLED", domainErr.Code)

	_, _, err = svc.Subscribe(context.Background())
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "EVENTS_UNAVAILABLE", domainErr.Code)

	resp := svc.Search(context.Background(), "x", 0)
	assert.NotNil(t, resp.Results)

	res, err := svc.Save(context.Background(), content.List{content.Text("a")}, "")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Empty(t, res.Revision)
}

func TestSaveSurvivesPublishFailure(t *testing.T) {
	store := &memStore{}
	svc := New(store, Options{Broker: &failingBroker{}})

	res, err := svc.Save(context.Background(), content.List{content.Text("kept")}, "tester")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, content.List{content.Text("kept")}, store.list)
}

func TestSaveClonesInput(t *testing.T) {
	store := &memStore{}
	svc := New(store, Options{})
	list := content.List{content.Text("a")}

	_, err := svc.Save(context.Background(), list, "")
	require.NoError(t, err)
	list[0] = content.Text("mutated")

	got, err := svc.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, content.List{content.Text("a")}, got)
}

package identity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/lalith-99/unifiedinbox/internal/auth"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/lalith-99/unifiedinbox/internal/repository"
	"github.com/lalith-99/unifiedinbox/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setup(t *testing.T) (*memory.Store, *Resolver, auth.AuthContext) {
	t.Helper()
	store := memory.New()
	u, err := store.Users().Ensure(context.Background(), "dev@inbox.local", "Dev")
	require.NoError(t, err)
	return store, NewResolver(store, zap.NewNop()), auth.System(u.ID)
}

func TestResolveCreatesOnceAndReuses(t *testing.T) {
	ctx := context.Background()
	store, r, ac := setup(t)

	c1, created, err := r.Resolve(ctx, ac, models.ChannelSMS, "+1 (555) 123-4567", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "+15551234567", c1.Name)
	assert.Equal(t, []string{"+15551234567"}, c1.Phones)

	// WhatsApp shares the phone namespace.
	c2, created, err := r.Resolve(ctx, ac, models.ChannelWhatsApp, "whatsapp:+15551234567", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c1.ID, c2.ID)

	logs, err := store.Activity().ListByContact(ctx, c1.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.ActivityContactCreated, logs[0].Action)
}

func TestResolveSocialHandleAndBackfill(t *testing.T) {
	ctx := context.Background()
	_, r, ac := setup(t)

	c, _, err := r.Resolve(ctx, ac, models.ChannelSlack, "U123", "")
	require.NoError(t, err)
	assert.Equal(t, "Slack User U123", c.Name)
	assert.Equal(t, "U123", c.Handles["slack"])

	c, _, err = r.Resolve(ctx, ac, models.ChannelSlack, "U123", "Ann Smith")
	require.NoError(t, err)
	assert.Equal(t, "Ann Smith", c.Name)

	// A real name is never overwritten.
	c, _, err = r.Resolve(ctx, ac, models.ChannelSlack, "U123", "ann")
	require.NoError(t, err)
	assert.Equal(t, "Ann Smith", c.Name)
}

func TestResolveRejectsEmptyIdentifier(t *testing.T) {
	_, r, ac := setup(t)
	_, _, err := r.Resolve(context.Background(), ac, models.ChannelEmail, "  ", "")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestResolveConcurrentYieldsOneContact(t *testing.T) {
	ctx := context.Background()
	store, r, ac := setup(t)

	const n = 32
	ids := make([]uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, _, err := r.Resolve(ctx, ac, models.ChannelEmail, "Jane <jane@example.com>", "Jane")
			if assert.NoError(t, err) {
				ids[i] = c.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	all, err := store.Contacts().List(ctx, repository.ContactFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

type mergeFixture struct {
	store  *memory.Store
	r      *Resolver
	ac     auth.AuthContext
	source *models.Contact
	target *models.Contact
}

func newMergeFixture(t *testing.T) mergeFixture {
	t.Helper()
	ctx := context.Background()
	store, r, ac := setup(t)

	source, err := store.Contacts().Create(ctx, &models.Contact{
		UserID:  ac.UserID,
		Name:    "Ann (SMS)",
		Phones:  []string{"+15550000001"},
		Handles: map[string]string{"slack": "U-SOURCE", "twitter": "T1"},
		Tags:    []string{"vip"},
	})
	require.NoError(t, err)
	target, err := store.Contacts().Create(ctx, &models.Contact{
		UserID:  ac.UserID,
		Name:    "Ann",
		Emails:  []string{"ann@example.com"},
		Handles: map[string]string{"slack": "U-TARGET"},
		Tags:    []string{"lead", "vip"},
	})
	require.NoError(t, err)

	for i, sid := range []string{"SM1", "SM2", "SM3"} {
		ref := models.TwilioSid(sid)
		_, err := store.Messages().Create(ctx, &models.Message{
			ContactID: source.ID, UserID: ac.UserID, Channel: models.ChannelSMS,
			Direction: models.DirectionInbound, Status: models.StatusDelivered,
			Content: []string{"a", "b", "c"}[i], ExternalRef: &ref,
		})
		require.NoError(t, err)
	}
	ref := models.EmailMessageID("m1@example.com")
	_, err = store.Messages().Create(ctx, &models.Message{
		ContactID: target.ID, UserID: ac.UserID, Channel: models.ChannelEmail,
		Direction: models.DirectionInbound, Status: models.StatusDelivered, ExternalRef: &ref,
	})
	require.NoError(t, err)
	_, err = store.Notes().Create(ctx, &models.Note{ContactID: target.ID, UserID: ac.UserID, Content: "call back"})
	require.NoError(t, err)

	return mergeFixture{store: store, r: r, ac: ac, source: source, target: target}
}

func countMessages(t *testing.T, s repository.Store, contactID uuid.UUID) int {
	t.Helper()
	msgs, err := s.Messages().List(context.Background(), repository.MessageFilter{ContactID: contactID})
	require.NoError(t, err)
	return len(msgs)
}

func TestMerge(t *testing.T) {
	ctx := context.Background()
	f := newMergeFixture(t)

	res, err := f.r.Merge(ctx, f.ac, f.source.ID, f.target.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.MessagesMoved)

	assert.Equal(t, 4, countMessages(t, f.store, f.target.ID))
	assert.Equal(t, 0, countMessages(t, f.store, f.source.ID))

	gone, err := f.store.Contacts().GetByID(ctx, f.source.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	merged, err := f.store.Contacts().GetByID(ctx, f.target.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ann", merged.Name)
	assert.Equal(t, map[string]string{"slack": "U-TARGET", "twitter": "T1"}, merged.Handles)
	assert.Equal(t, []string{"+15550000001"}, merged.Phones)
	assert.Equal(t, []string{"ann@example.com"}, merged.Emails)
	assert.Equal(t, []string{"lead", "vip"}, merged.Tags)

	notes, err := f.store.Notes().ListByContact(ctx, f.target.ID, f.ac.UserID)
	require.NoError(t, err)
	assert.Len(t, notes, 1)

	// The source's phone now resolves to the target.
	c, created, err := f.r.Resolve(ctx, f.ac, models.ChannelSMS, "+15550000001", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, f.target.ID, c.ID)

	// The source's Slack id lost the conflict and is free again.
	found, err := f.store.Contacts().FindByIdentity(ctx, models.Identity{Kind: models.IdentitySlack, Value: "U-SOURCE"})
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestMergeDropsDuplicateMessages(t *testing.T) {
	ctx := context.Background()
	f := newMergeFixture(t)

	// The same SMS was ingested once under each contact before they were merged.
	ref := models.TwilioSid("SM2")
	_, err := f.store.Messages().Create(ctx, &models.Message{
		ContactID: f.target.ID, UserID: f.ac.UserID, Channel: models.ChannelSMS,
		Direction: models.DirectionInbound, Status: models.StatusDelivered, Content: "b", ExternalRef: &ref,
	})
	require.NoError(t, err)

	res, err := f.r.Merge(ctx, f.ac, f.source.ID, f.target.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.MessagesMoved)
	assert.Equal(t, int64(1), res.MessagesDropped)
	assert.Equal(t, 4, countMessages(t, f.store, f.target.ID))

	logs, err := f.store.Activity().ListByContact(ctx, f.target.ID, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.ActivityContactsMerged, logs[0].Action)
	assert.EqualValues(t, 1, logs[0].Details["messagesDropped"])
}

func TestMergeErrors(t *testing.T) {
	ctx := context.Background()
	f := newMergeFixture(t)

	_, err := f.r.Merge(ctx, f.ac, f.source.ID, f.source.ID)
	assert.ErrorIs(t, err, ErrSameContact)

	_, err = f.r.Merge(ctx, f.ac, uuid.New(), f.target.ID)
	assert.ErrorIs(t, err, ErrContactNotFound)
}

// failingStore breaks Contacts().Delete inside transactions.
type failingStore struct {
	repository.Store
}

func (f failingStore) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return f.Store.WithTx(ctx, func(tx repository.Store) error {
		return fn(failingStore{tx})
	})
}

func (f failingStore) Contacts() repository.ContactRepository {
	return failingContacts{f.Store.Contacts()}
}

type failingContacts struct {
	repository.ContactRepository
}

func (failingContacts) Delete(ctx context.Context, contactID uuid.UUID) error {
	return errors.New("simulated crash")
}

func TestMergeRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	f := newMergeFixture(t)
	r := NewResolver(failingStore{f.store}, zap.NewNop())

	_, err := r.Merge(ctx, f.ac, f.source.ID, f.target.ID)
	require.Error(t, err)

	assert.Equal(t, 3, countMessages(t, f.store, f.source.ID))
	assert.Equal(t, 1, countMessages(t, f.store, f.target.ID))

	source, err := f.store.Contacts().GetByID(ctx, f.source.ID)
	require.NoError(t, err)
	require.NotNil(t, source)
	assert.Equal(t, "U-SOURCE", source.Handles["slack"])

	target, err := f.store.Contacts().GetByID(ctx, f.target.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"lead", "vip"}, target.Tags)
	assert.Empty(t, target.Phones)
}

func TestMergeContactsPrefersTarget(t *testing.T) {
	target := &models.Contact{Phones: []string{"+1"}, Handles: map[string]string{"facebook": "fb-t"}}
	source := &models.Contact{Name: "Src", Phones: []string{"+2", "+1"}, Emails: []string{"s@x.io"}, Handles: map[string]string{"facebook": "fb-s", "slack": "U1"}}

	m := MergeContacts(target, source)
	assert.Equal(t, "Src", m.Name)
	assert.Equal(t, []string{"+1", "+2"}, m.Phones)
	assert.Equal(t, []string{"s@x.io"}, m.Emails)
	assert.Equal(t, map[string]string{"facebook": "fb-t", "slack": "U1"}, m.Handles)
}

package conversation

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasia-im/kasiad/internal/models"
	"github.com/kasia-im/kasiad/internal/protocol"
	"github.com/kasia-im/kasiad/pkg/logger"
	"github.com/kasia-im/kasiad/pkg/validation"
)

const (
	addrAlice = "kaspa:qzalice00000000000000000000000000000000"
	addrBob   = "kaspa:qzbob0000000000000000000000000000000000"
)

// fakeContacts is an in-memory ContactRepository.
type fakeContacts struct {
	mu sync.Mutex
	m  map[string]*models.Contact
}

func newFakeContacts() *fakeContacts {
	return &fakeContacts{m: make(map[string]*models.Contact)}
}

func (f *fakeContacts) Get(id string) (*models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.m[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	cp := *c
	return &cp, nil
}

func (f *fakeContacts) GetAll() ([]*models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := make([]*models.Contact, 0, len(f.m))
	for _, c := range f.m {
		cp := *c
		all = append(all, &cp)
	}
	return all, nil
}

func (f *fakeContacts) Save(contact *models.Contact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *contact
	f.m[contact.ID] = &cp
	return nil
}

func (f *fakeContacts) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.m, id)
	return nil
}

// fakeConversations is an in-memory ConversationRepository.
type fakeConversations struct {
	mu sync.Mutex
	m  map[string]*models.Conversation
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{m: make(map[string]*models.Conversation)}
}

func (f *fakeConversations) Get(id string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.m[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	cp := *c
	return &cp, nil
}

func (f *fakeConversations) GetAll() ([]*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := make([]*models.Conversation, 0, len(f.m))
	for _, c := range f.m {
		cp := *c
		all = append(all, &cp)
	}
	return all, nil
}

func (f *fakeConversations) GetByStatus(status models.ConversationStatus) ([]*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*models.Conversation
	for _, c := range f.m {
		if c.Status == status {
			cp := *c
			all = append(all, &cp)
		}
	}
	return all, nil
}

func (f *fakeConversations) GetByContact(contactID string) ([]*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*models.Conversation
	for _, c := range f.m {
		if c.ContactID == contactID {
			cp := *c
			all = append(all, &cp)
		}
	}
	return all, nil
}

func (f *fakeConversations) Save(conversation *models.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *conversation
	f.m[conversation.ID] = &cp
	return nil
}

func (f *fakeConversations) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.m, id)
	return nil
}

// recordingEvents captures every event the manager fires.
type recordingEvents struct {
	mu        sync.Mutex
	initiated []string
	completed []string
	failures  []error
}

func (r *recordingEvents) HandshakeInitiated(conv *models.Conversation, contact *models.Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initiated = append(r.initiated, conv.ID)
}

func (r *recordingEvents) HandshakeCompleted(conv *models.Conversation, contact *models.Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, conv.ID)
}

func (r *recordingEvents) HandshakeFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

func (r *recordingEvents) completedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completed)
}

type peer struct {
	manager       *Manager
	contacts      *fakeContacts
	conversations *fakeConversations
	events        *recordingEvents
}

func newPeer(t *testing.T, tenant string) *peer {
	t.Helper()

	log, err := logger.NewLogger(true)
	require.NoError(t, err)

	p := &peer{
		contacts:      newFakeContacts(),
		conversations: newFakeConversations(),
		events:        &recordingEvents{},
	}
	p.manager, err = NewManager(tenant, p.contacts, p.conversations, p.events, NewAliasGenerator(6, 100), log)
	require.NoError(t, err)
	return p
}

func TestFullPairing(t *testing.T) {
	alice := newPeer(t, addrAlice)
	bob := newPeer(t, addrBob)

	// Alice initiates.
	payload, conv, err := alice.manager.InitiateHandshake(addrBob)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, conv.Status)
	assert.True(t, conv.InitiatedByMe)
	assert.True(t, protocol.IsAlias(conv.MyAlias, 6))
	assert.Equal(t, []string{conv.ID}, alice.events.initiated)

	decoded, err := protocol.DecodeHandshake(payload)
	require.NoError(t, err)
	assert.True(t, decoded.SendToRecipient)
	assert.False(t, decoded.IsResponse)
	assert.Equal(t, addrBob, decoded.RecipientAddress)

	// Bob observes the first message.
	require.NoError(t, bob.manager.ProcessHandshake(addrAlice, payload))

	bobConv, bobContact, err := bob.manager.ConversationByID(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, bobConv.Status)
	assert.False(t, bobConv.InitiatedByMe)
	assert.Equal(t, addrAlice, bobContact.KaspaAddress)
	assert.Equal(t, conv.MyAlias, bobConv.TheirAlias)

	// Bob accepts.
	response, err := bob.manager.CreateHandshakeResponse(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, bob.events.completedCount())

	bobConv, _, err = bob.manager.ConversationByID(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, bobConv.Status)

	decodedResp, err := protocol.DecodeHandshake(response)
	require.NoError(t, err)
	assert.True(t, decodedResp.IsResponse)
	assert.False(t, decodedResp.SendToRecipient)
	assert.Equal(t, conv.MyAlias, decodedResp.TheirAlias)

	// Alice observes the response.
	require.NoError(t, alice.manager.ProcessHandshake(addrBob, response))
	assert.Equal(t, 1, alice.events.completedCount())

	aliceConv, _, err := alice.manager.ConversationByID(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, aliceConv.Status)
	assert.Equal(t, bobConv.MyAlias, aliceConv.TheirAlias)

	// Both sides resolve each other's alias.
	_, _, err = alice.manager.ConversationByAlias(aliceConv.TheirAlias)
	assert.NoError(t, err)
	_, _, err = bob.manager.ConversationByAlias(bobConv.TheirAlias)
	assert.NoError(t, err)
}

func TestInitiateRetryIsIdempotent(t *testing.T) {
	alice := newPeer(t, addrAlice)

	_, first, err := alice.manager.InitiateHandshake(addrBob)
	require.NoError(t, err)
	_, second, err := alice.manager.InitiateHandshake(addrBob)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.MyAlias, second.MyAlias)
	assert.Len(t, alice.events.initiated, 1)

	all, err := alice.conversations.GetAll()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestInitiateToActiveConversation(t *testing.T) {
	alice := newPeer(t, addrAlice)
	bob := newPeer(t, addrBob)

	payload, conv, err := alice.manager.InitiateHandshake(addrBob)
	require.NoError(t, err)
	require.NoError(t, bob.manager.ProcessHandshake(addrAlice, payload))
	response, err := bob.manager.CreateHandshakeResponse(conv.ID)
	require.NoError(t, err)
	require.NoError(t, alice.manager.ProcessHandshake(addrBob, response))

	_, _, err = alice.manager.InitiateHandshake(addrBob)
	assert.True(t, errors.Is(err, ErrAlreadyActive))
}

func TestInitiateRejectsBadAddress(t *testing.T) {
	alice := newPeer(t, addrAlice)

	_, _, err := alice.manager.InitiateHandshake("not-an-address")
	assert.True(t, errors.Is(err, validation.ErrInvalidAddress))
}

func TestDuplicateResponseIsNoOp(t *testing.T) {
	alice := newPeer(t, addrAlice)
	bob := newPeer(t, addrBob)

	payload, conv, err := alice.manager.InitiateHandshake(addrBob)
	require.NoError(t, err)
	require.NoError(t, bob.manager.ProcessHandshake(addrAlice, payload))
	response, err := bob.manager.CreateHandshakeResponse(conv.ID)
	require.NoError(t, err)

	require.NoError(t, alice.manager.ProcessHandshake(addrBob, response))
	before, _, err := alice.manager.ConversationByID(conv.ID)
	require.NoError(t, err)

	// The transport may deliver the same response again.
	require.NoError(t, alice.manager.ProcessHandshake(addrBob, response))
	after, _, err := alice.manager.ConversationByID(conv.ID)
	require.NoError(t, err)

	assert.Equal(t, before, after)
	assert.Equal(t, 1, alice.events.completedCount())
}

func TestDuplicateFirstMessageIsNoOp(t *testing.T) {
	alice := newPeer(t, addrAlice)
	bob := newPeer(t, addrBob)

	payload, conv, err := alice.manager.InitiateHandshake(addrBob)
	require.NoError(t, err)

	require.NoError(t, bob.manager.ProcessHandshake(addrAlice, payload))
	before, _, err := bob.manager.ConversationByID(conv.ID)
	require.NoError(t, err)

	require.NoError(t, bob.manager.ProcessHandshake(addrAlice, payload))
	after, _, err := bob.manager.ConversationByID(conv.ID)
	require.NoError(t, err)

	assert.Equal(t, before, after)
	all, err := bob.conversations.GetAll()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestResponseWithInvalidEchoStaysPending(t *testing.T) {
	alice := newPeer(t, addrAlice)

	// A response for an unknown conversation whose echoed alias is garbage:
	// the round trip is not proven, so the pairing stays pending under a
	// freshly minted alias.
	raw, err := protocol.EncodeHandshake(&models.HandshakePayload{
		Type:           "handshake",
		Alias:          "b1b2b3b4b5b6",
		TheirAlias:     "not-hex!",
		Timestamp:      1,
		ConversationID: "conv-echo-bad",
		Version:        protocol.Version,
		IsResponse:     true,
	})
	require.NoError(t, err)

	require.NoError(t, alice.manager.ProcessHandshake(addrBob, raw))

	conv, _, err := alice.manager.ConversationByID("conv-echo-bad")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, conv.Status)
	assert.NotEqual(t, "not-hex!", conv.MyAlias)
	assert.True(t, protocol.IsAlias(conv.MyAlias, 6))
	assert.Equal(t, 0, alice.events.completedCount())
}

func TestPeerCacheLossCreatesSecondConversation(t *testing.T) {
	alice := newPeer(t, addrAlice)
	bob := newPeer(t, addrBob)

	// Establish a full pairing.
	payload, conv, err := alice.manager.InitiateHandshake(addrBob)
	require.NoError(t, err)
	require.NoError(t, bob.manager.ProcessHandshake(addrAlice, payload))
	response, err := bob.manager.CreateHandshakeResponse(conv.ID)
	require.NoError(t, err)
	require.NoError(t, alice.manager.ProcessHandshake(addrBob, response))

	// Alice loses her cache and re-initiates under a brand-new id. Bob must
	// not merge it into the old conversation.
	fresh, err := protocol.EncodeHandshake(&models.HandshakePayload{
		Type:           "handshake",
		Alias:          "c1c2c3c4c5c6",
		Timestamp:      2,
		ConversationID: "conv-after-reset",
		Version:        protocol.Version,
	})
	require.NoError(t, err)
	require.NoError(t, bob.manager.ProcessHandshake(addrAlice, fresh))

	oldConv, oldContact, err := bob.manager.ConversationByID(conv.ID)
	require.NoError(t, err)
	newConv, newContact, err := bob.manager.ConversationByID("conv-after-reset")
	require.NoError(t, err)

	assert.Equal(t, models.StatusActive, oldConv.Status)
	assert.Equal(t, models.StatusPending, newConv.Status)
	// The contact is shared, not duplicated.
	assert.Equal(t, oldContact.ID, newContact.ID)

	all, err := bob.contacts.GetAll()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUnknownSenderAdoption(t *testing.T) {
	bob := newPeer(t, addrBob)

	raw, err := protocol.EncodeHandshake(&models.HandshakePayload{
		Type:           "handshake",
		Alias:          "d1d2d3d4d5d6",
		Timestamp:      1,
		ConversationID: "conv-unknown",
		Version:        protocol.Version,
	})
	require.NoError(t, err)

	// First delivery arrives before the sender could be resolved.
	require.NoError(t, bob.manager.ProcessHandshake(models.UnknownSender, raw))
	_, contact, err := bob.manager.ConversationByID("conv-unknown")
	require.NoError(t, err)
	assert.Equal(t, models.UnknownSender, contact.KaspaAddress)

	// A replay with the resolved address adopts it.
	require.NoError(t, bob.manager.ProcessHandshake(addrAlice, raw))
	_, contact, err = bob.manager.ConversationByID("conv-unknown")
	require.NoError(t, err)
	assert.Equal(t, addrAlice, contact.KaspaAddress)

	_, _, err = bob.manager.ConversationByAddress(addrAlice)
	assert.NoError(t, err)
}

func TestAddressMismatchIsDropped(t *testing.T) {
	alice := newPeer(t, addrAlice)
	bob := newPeer(t, addrBob)

	payload, conv, err := alice.manager.InitiateHandshake(addrBob)
	require.NoError(t, err)
	require.NoError(t, bob.manager.ProcessHandshake(addrAlice, payload))
	response, err := bob.manager.CreateHandshakeResponse(conv.ID)
	require.NoError(t, err)

	// A response for Alice's conversation arriving from a third address is
	// dropped without touching state.
	intruder := "kaspa:qzmallory000000000000000000000000000000"
	require.NoError(t, alice.manager.ProcessHandshake(intruder, response))

	got, _, err := alice.manager.ConversationByID(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 0, alice.events.completedCount())
	assert.NotEmpty(t, alice.events.failures)
}

func TestRespondBeforePeerAliasKnown(t *testing.T) {
	alice := newPeer(t, addrAlice)

	_, conv, err := alice.manager.InitiateHandshake(addrBob)
	require.NoError(t, err)

	_, err = alice.manager.CreateHandshakeResponse(conv.ID)
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestRespondToActiveBumpsActivityOnly(t *testing.T) {
	alice := newPeer(t, addrAlice)
	bob := newPeer(t, addrBob)

	payload, conv, err := alice.manager.InitiateHandshake(addrBob)
	require.NoError(t, err)
	require.NoError(t, bob.manager.ProcessHandshake(addrAlice, payload))
	_, err = bob.manager.CreateHandshakeResponse(conv.ID)
	require.NoError(t, err)

	// Re-sending a response after the peer lost its cache is allowed and
	// fires no second completion event.
	_, err = bob.manager.CreateHandshakeResponse(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, bob.events.completedCount())
}

func TestRejectHandshake(t *testing.T) {
	bob := newPeer(t, addrBob)

	raw, err := protocol.EncodeHandshake(&models.HandshakePayload{
		Type:           "handshake",
		Alias:          "e1e2e3e4e5e6",
		Timestamp:      1,
		ConversationID: "conv-reject",
		Version:        protocol.Version,
	})
	require.NoError(t, err)
	require.NoError(t, bob.manager.ProcessHandshake(addrAlice, raw))

	conv, _, err := bob.manager.ConversationByID("conv-reject")
	require.NoError(t, err)

	require.NoError(t, bob.manager.RejectHandshake("conv-reject"))

	got, _, err := bob.manager.ConversationByID("conv-reject")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, got.Status)

	// Rejected conversations release their aliases.
	_, _, err = bob.manager.ConversationByAlias(conv.MyAlias)
	assert.True(t, errors.Is(err, ErrConversationNotFound))
	_, _, err = bob.manager.ConversationByAlias(conv.TheirAlias)
	assert.True(t, errors.Is(err, ErrConversationNotFound))

	// Only pending conversations can be rejected.
	err = bob.manager.RejectHandshake("conv-reject")
	assert.True(t, errors.Is(err, ErrInvalidState))

	// Responding to a rejected conversation is refused too.
	_, err = bob.manager.CreateHandshakeResponse("conv-reject")
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestRemoveConversation(t *testing.T) {
	alice := newPeer(t, addrAlice)

	_, conv, err := alice.manager.InitiateHandshake(addrBob)
	require.NoError(t, err)

	require.NoError(t, alice.manager.RemoveConversation(conv.ID))

	_, _, err = alice.manager.ConversationByID(conv.ID)
	assert.True(t, errors.Is(err, ErrConversationNotFound))
	_, _, err = alice.manager.ConversationByAddress(addrBob)
	assert.True(t, errors.Is(err, ErrConversationNotFound))
	_, _, err = alice.manager.ConversationByAlias(conv.MyAlias)
	assert.True(t, errors.Is(err, ErrConversationNotFound))

	contacts, err := alice.contacts.GetAll()
	require.NoError(t, err)
	assert.Empty(t, contacts)

	err = alice.manager.RemoveConversation(conv.ID)
	assert.True(t, errors.Is(err, ErrConversationNotFound))
}

func TestProcessMalformedPayload(t *testing.T) {
	alice := newPeer(t, addrAlice)

	err := alice.manager.ProcessHandshake(addrBob, "ciph_msg:1:handshake:not-json")
	assert.True(t, errors.Is(err, protocol.ErrMalformedPayload))
	assert.True(t, IsProtocolError(err))
	assert.NotEmpty(t, alice.events.failures)

	all, err := alice.conversations.GetAll()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRebuildMatchesIncrementalState(t *testing.T) {
	alice := newPeer(t, addrAlice)
	bob := newPeer(t, addrBob)

	payload, conv, err := alice.manager.InitiateHandshake(addrBob)
	require.NoError(t, err)
	require.NoError(t, bob.manager.ProcessHandshake(addrAlice, payload))
	response, err := bob.manager.CreateHandshakeResponse(conv.ID)
	require.NoError(t, err)
	require.NoError(t, alice.manager.ProcessHandshake(addrBob, response))

	// A second manager over the same repositories must answer queries
	// identically to the one that built the state incrementally.
	log, err := logger.NewLogger(true)
	require.NoError(t, err)
	reborn, err := NewManager(addrAlice, alice.contacts, alice.conversations, &recordingEvents{}, NewAliasGenerator(6, 100), log)
	require.NoError(t, err)

	wantConv, wantContact, err := alice.manager.ConversationByID(conv.ID)
	require.NoError(t, err)
	gotConv, gotContact, err := reborn.ConversationByID(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, wantConv, gotConv)
	assert.Equal(t, wantContact, gotContact)

	_, _, err = reborn.ConversationByAddress(addrBob)
	assert.NoError(t, err)
	_, _, err = reborn.ConversationByAlias(wantConv.MyAlias)
	assert.NoError(t, err)
	_, _, err = reborn.ConversationByAlias(wantConv.TheirAlias)
	assert.NoError(t, err)

	assert.ElementsMatch(t, alice.manager.MonitoredAliases(), reborn.MonitoredAliases())
}

func TestMonitoredAliases(t *testing.T) {
	alice := newPeer(t, addrAlice)
	bob := newPeer(t, addrBob)

	// Pending conversations are not monitored.
	payload, conv, err := alice.manager.InitiateHandshake(addrBob)
	require.NoError(t, err)
	assert.Empty(t, alice.manager.MonitoredAliases())

	require.NoError(t, bob.manager.ProcessHandshake(addrAlice, payload))
	response, err := bob.manager.CreateHandshakeResponse(conv.ID)
	require.NoError(t, err)
	require.NoError(t, alice.manager.ProcessHandshake(addrBob, response))

	monitored := alice.manager.MonitoredAliases()
	require.Len(t, monitored, 2)
	for _, m := range monitored {
		assert.Equal(t, addrBob, m.KaspaAddress)
	}
}

func TestStatusQueries(t *testing.T) {
	alice := newPeer(t, addrAlice)

	_, conv, err := alice.manager.InitiateHandshake(addrBob)
	require.NoError(t, err)

	pending := alice.manager.PendingConversations()
	require.Len(t, pending, 1)
	assert.Equal(t, conv.ID, pending[0].ID)
	assert.Empty(t, alice.manager.ActiveConversations())
}

func TestQueryResultsAreCopies(t *testing.T) {
	alice := newPeer(t, addrAlice)

	_, conv, err := alice.manager.InitiateHandshake(addrBob)
	require.NoError(t, err)

	got, _, err := alice.manager.ConversationByID(conv.ID)
	require.NoError(t, err)
	got.Status = models.StatusRejected
	got.MyAlias = "mutated"

	again, _, err := alice.manager.ConversationByID(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, again.Status)
	assert.NotEqual(t, "mutated", again.MyAlias)
}

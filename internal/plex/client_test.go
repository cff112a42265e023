package plex

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlex struct {
	users         string
	invites       string
	shareStatus   int
	resourceCalls atomic.Int32
	shares        []shareRequest
	deleted       []string
}

func (f *fakePlex) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/resources", func(w http.ResponseWriter, r *http.Request) {
		f.resourceCalls.Add(1)
		assert.Equal(t, "tok", r.Header.Get("X-Plex-Token"))
		w.Write([]byte(`[{"name":"OTHER","clientIdentifier":"m0","provides":"server"},{"name":"REELSPACE","clientIdentifier":"m1","provides":"server,player"}]`))
	})
	mux.HandleFunc("/api/users", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<MediaContainer>` + f.users + `</MediaContainer>`))
	})
	mux.HandleFunc("/api/invites/requested", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<MediaContainer>` + f.invites + `</MediaContainer>`))
	})
	mux.HandleFunc("/api/servers/m1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<MediaContainer><Server machineIdentifier="m1"><Section id="11" key="1" title="Movies"/><Section id="12" key="2" title="Shows"/></Server></MediaContainer>`))
	})
	mux.HandleFunc("/api/v2/shared_servers", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		var req shareRequest
		assert.NoError(t, json.Unmarshal(body, &req))
		f.shares = append(f.shares, req)
		if f.shareStatus != 0 {
			w.WriteHeader(f.shareStatus)
			w.Write([]byte("nope"))
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/api/v2/friends/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		f.deleted = append(f.deleted, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func newTestClient(t *testing.T, f *fakePlex) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, Token: "tok", ServerName: "REELSPACE", HTTPClient: srv.Client()})
}

func TestInviteSendsShareForAllSections(t *testing.T) {
	f := &fakePlex{}
	c := newTestClient(t, f)

	outcome, err := c.Invite(context.Background(), "New@Example.com", "New User")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)
	require.Len(t, f.shares, 1)
	assert.Equal(t, "m1", f.shares[0].MachineIdentifier)
	assert.Equal(t, "new@example.com", f.shares[0].InvitedEmail)
	assert.Equal(t, []int{11, 12}, f.shares[0].LibrarySectionIDs)
	assert.Equal(t, "0", f.shares[0].Settings.AllowSync)
}

func TestInviteAlreadyShared(t *testing.T) {
	f := &fakePlex{users: `<User id="7" email="friend@example.com" username="friendly"/>`}
	c := newTestClient(t, f)

	outcome, err := c.Invite(context.Background(), "FRIEND@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyShared, outcome)
	assert.Empty(t, f.shares)
}

func TestInviteAlreadyInvited(t *testing.T) {
	f := &fakePlex{invites: `<Invite id="3" email="" username="pending@example.com"/>`}
	c := newTestClient(t, f)

	outcome, err := c.Invite(context.Background(), "pending@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyInvited, outcome)
	assert.Empty(t, f.shares)
}

func TestInviteProviderError(t *testing.T) {
	f := &fakePlex{shareStatus: http.StatusBadRequest}
	c := newTestClient(t, f)

	_, err := c.Invite(context.Background(), "x@example.com", "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestServerResourceIsCached(t *testing.T) {
	f := &fakePlex{}
	c := newTestClient(t, f)

	for i := 0; i < 3; i++ {
		_, err := c.Invite(context.Background(), "x@example.com", "")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.resourceCalls.Load())
}

func TestServerNotFound(t *testing.T) {
	f := &fakePlex{}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()
	c := NewClient(Config{BaseURL: srv.URL, Token: "tok", ServerName: "MISSING", HTTPClient: srv.Client()})

	_, err := c.Invite(context.Background(), "x@example.com", "")
	assert.ErrorIs(t, err, ErrServerNotFound)
}

func TestNotConfigured(t *testing.T) {
	c := NewClient(Config{ServerName: "REELSPACE"})

	_, err := c.Invite(context.Background(), "x@example.com", "")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = c.Revoke(context.Background(), "x@example.com")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRevoke(t *testing.T) {
	f := &fakePlex{users: `<User id="42" email="gone@example.com" username="gone"/>`}
	c := newTestClient(t, f)

	removed, err := c.Revoke(context.Background(), "Gone@example.com")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"/api/v2/friends/42"}, f.deleted)

	removed, err = c.Revoke(context.Background(), "stranger@example.com")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "sent", OutcomeSent.String())
	assert.Equal(t, "already_shared", OutcomeAlreadyShared.String())
	assert.Equal(t, "already_invited", OutcomeAlreadyInvited.String())
	assert.Equal(t, "outcome(0)", Outcome(0).String())
}

package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portalcal/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL, Token: "secret", InitialBackoff: time.Millisecond})
	require.NoError(t, err)
	return c, srv
}

func TestFetchEvents_TagsAuthoritative(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"a1","title":"Midterm","date":"2025-03-10","time":"09:00","type":"exam","createdBy":"admin"},
			{"id":"a2","title":"Holiday","date":"2025-03-11","time":"00:00","type":"holiday"},
			{"title":"no id"}
		]`))
	})

	events, err := c.FetchEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, model.OriginAuthoritative, ev.Origin)
		assert.Equal(t, model.AdminCreator, ev.CreatedBy)
	}
}

func TestFetchEvents_WrappedObject(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"events":[{"id":"a1","title":"x","date":"2025-03-10","time":"09:00","type":"exam"}]}`))
	})

	events, err := c.FetchEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestFetchEvents_MalformedIsError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value":null}`))
	})

	_, err := c.FetchEvents(context.Background())
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestFetchAnnouncements_Shapes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		present bool
		count   int
	}{
		{"bare array", `[{"id":"n1","title":"t","priority":"high"}]`, true, 1},
		{"empty array", `[]`, true, 0},
		{"wrapped empty", `{"announcements":[]}`, true, 0},
		{"missing key", `{"items":[]}`, false, 0},
		{"null", `null`, false, 0},
		{"wrong type", `{"announcements":"soon"}`, false, 0},
		{"bad elements", `[1,2,3]`, false, 0},
		{"empty body", ``, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/announcements", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			})

			got, err := c.FetchAnnouncements(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.present, got.Present)
			assert.Len(t, got.Items, tt.count)
			if tt.present {
				assert.NotNil(t, got.Items)
			}
		})
	}
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})

	events, err := c.FetchEvents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.FetchAnnouncements(context.Background())
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusServiceUnavailable, serr.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/events":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	_, err := c.FetchEvents(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = c.FetchAnnouncements(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_DeadlineIsAnError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.FetchEvents(ctx)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

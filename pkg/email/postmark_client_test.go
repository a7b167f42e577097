package email_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/email"
)

func postmarkConfig() email.Config {
	return email.Config{
		PostmarkServerToken:  "server-token",
		PostmarkAccountToken: "account-token",
		SenderEmail:          "billing@example.com",
		SupportEmail:         "support@example.com",
	}
}

func TestNewPostmarkClient(t *testing.T) {
	t.Parallel()

	client, err := email.NewPostmarkClient(postmarkConfig())
	require.NoError(t, err)
	assert.NotNil(t, client)

	tests := []struct {
		name   string
		modify func(c *email.Config)
		errMsg string
	}{
		{name: "empty server token", modify: func(c *email.Config) { c.PostmarkServerToken = "" }, errMsg: "PostmarkServerToken is required"},
		{name: "empty account token", modify: func(c *email.Config) { c.PostmarkAccountToken = "" }, errMsg: "PostmarkAccountToken is required"},
		{name: "empty sender", modify: func(c *email.Config) { c.SenderEmail = "" }, errMsg: "SenderEmail is required"},
		{name: "invalid sender", modify: func(c *email.Config) { c.SenderEmail = "billing" }, errMsg: "SenderEmail must be a valid email address"},
		{name: "empty support", modify: func(c *email.Config) { c.SupportEmail = "" }, errMsg: "SupportEmail is required"},
		{name: "invalid support", modify: func(c *email.Config) { c.SupportEmail = "support@" }, errMsg: "SupportEmail must be a valid email address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := postmarkConfig()
			tt.modify(&cfg)

			client, err := email.NewPostmarkClient(cfg)
			assert.Nil(t, client)
			assert.ErrorIs(t, err, email.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	assert.Panics(t, func() { email.MustNewPostmarkClient(email.Config{PostmarkServerToken: "x"}) })
}

func TestPostmarkClient_SendEmail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("delivers through the api", func(t *testing.T) {
		t.Parallel()

		received := make(chan map[string]any, 1)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "server-token", r.Header.Get("X-Postmark-Server-Token"))
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			received <- body
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ErrorCode":0,"Message":"OK","MessageID":"b7bc2f4a"}`))
		}))
		t.Cleanup(srv.Close)

		client, err := email.NewPostmarkClient(postmarkConfig(),
			email.WithPostmarkBaseURL(srv.URL),
			email.WithPostmarkHTTPClient(srv.Client()),
		)
		require.NoError(t, err)
		require.NoError(t, client.SendEmail(ctx, validParams()))

		body := <-received
		assert.Equal(t, "billing@example.com", body["From"])
		assert.Equal(t, "support@example.com", body["ReplyTo"])
		assert.Equal(t, "user@example.com", body["To"])
		assert.Equal(t, "Your invoice", body["Subject"])
		assert.Equal(t, "invoice", body["Tag"])
	})

	t.Run("api failure", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ErrorCode":406,"Message":"Inactive recipient"}`))
		}))
		t.Cleanup(srv.Close)

		client, err := email.NewPostmarkClient(postmarkConfig(), email.WithPostmarkBaseURL(srv.URL))
		require.NoError(t, err)
		assert.ErrorIs(t, client.SendEmail(ctx, validParams()), email.ErrFailedToSendEmail)
	})

	t.Run("invalid params never reach the api", func(t *testing.T) {
		t.Parallel()

		client, err := email.NewPostmarkClient(postmarkConfig(), email.WithPostmarkBaseURL("http://127.0.0.1:1"))
		require.NoError(t, err)

		params := validParams()
		params.BodyHTML = ""
		err = client.SendEmail(ctx, params)
		assert.ErrorIs(t, err, email.ErrInvalidParams)
		assert.Contains(t, err.Error(), "BodyHTML is required")
	})
}

func TestDeliveryError(t *testing.T) {
	t.Parallel()

	rejected := &email.DeliveryError{Code: 406, Message: "Inactive recipient"}
	assert.True(t, rejected.Rejected())
	assert.Equal(t, "postmark error: 406 - Inactive recipient", rejected.Error())

	assert.False(t, (&email.DeliveryError{Code: 10, Message: "Bad API token"}).Rejected())
}

package reputation_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/pilab-dev/discord-verifier/cache"
	"github.com/pilab-dev/discord-verifier/internal/reputation"
	"github.com/pilab-dev/discord-verifier/internal/testutil"
	"github.com/pilab-dev/discord-verifier/log"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Get(ctx context.Context, key string) ([]byte, bool) {
	args := m.Called(ctx, key)
	raw, _ := args.Get(0).([]byte)
	return raw, args.Bool(1)
}

func (m *mockStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}

func TestVerdict_Flagged(t *testing.T) {
	tests := []struct {
		name    string
		verdict reputation.Verdict
		flagged bool
		reasons []string
	}{
		{"clean", reputation.Verdict{FraudScore: 10}, false, nil},
		{"vpn", reputation.Verdict{VPN: true}, true, []string{"vpn"}},
		{"proxy", reputation.Verdict{Proxy: true}, true, []string{"proxy"}},
		{"tor", reputation.Verdict{Tor: true}, true, []string{"tor"}},
		{"score at threshold", reputation.Verdict{FraudScore: 50}, true, []string{"fraud_score=50"}},
		{"score below threshold", reputation.Verdict{FraudScore: 49.9}, false, nil},
		{"several", reputation.Verdict{VPN: true, Tor: true, FraudScore: 88}, true, []string{"vpn", "tor", "fraud_score=88"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.flagged, tt.verdict.Flagged(reputation.DefaultThreshold))
			assert.Equal(t, tt.reasons, tt.verdict.Reasons(reputation.DefaultThreshold))
		})
	}
}

func TestVerdict_SummaryNil(t *testing.T) {
	var v *reputation.Verdict
	assert.Equal(t, "Unavailable", v.Summary())
	assert.False(t, v.Flagged(50))
}

func TestChecker_Check(t *testing.T) {
	up := testutil.NewUpstream(t)
	up.Handle("GET ipqualityscore.com/api/json/ip/{key}/{ip}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.PathValue("key"))
		assert.Equal(t, "203.0.113.7", r.PathValue("ip"))
		_, _ = w.Write([]byte(`{"success":true,"fraud_score":75,"vpn":true,"proxy":false,"tor":false,"ISP":"Example ISP","country_code":"NL"}`))
	})

	store := cache.NewMemoryStore(time.Minute)
	defer store.Close()

	checker := reputation.NewChecker("secret", up.Client(), store, time.Minute, nil)

	v, err := checker.Check(context.Background(), " 203.0.113.7 ")
	require.NoError(t, err)
	assert.True(t, v.VPN)
	assert.InDelta(t, 75, v.FraudScore, 0.001)
	assert.Equal(t, "Example ISP", v.ISP)
	assert.Equal(t, "NL", v.CountryCode)
	assert.True(t, v.Flagged(50))

	// second lookup is served from the cache
	_, err = checker.Check(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, 1, up.Count(http.MethodGet, "ipqualityscore.com", "/api/json/ip/"))
}

func TestChecker_Errors(t *testing.T) {
	up := testutil.NewUpstream(t)
	up.Handle("GET ipqualityscore.com/api/json/ip/{key}/198.51.100.1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"Invalid API key."}`))
	})
	up.Handle("GET ipqualityscore.com/api/json/ip/{key}/198.51.100.2", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	checker := reputation.NewChecker("secret", up.Client(), nil, time.Minute, nil)
	ctx := context.Background()

	_, err := checker.Check(ctx, "198.51.100.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid API key.")

	_, err = checker.Check(ctx, "198.51.100.2")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")

	_, err = checker.Check(ctx, "Unknown IP")
	require.ErrorIs(t, err, reputation.ErrInvalidIP)
	assert.Equal(t, 2, len(up.Calls()))
}

func TestChecker_CacheWriteFailureIsLogged(t *testing.T) {
	up := testutil.NewUpstream(t)
	up.Handle("GET ipqualityscore.com/api/json/ip/{key}/{ip}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"fraud_score":5}`))
	})

	store := &mockStore{}
	store.On("Get", mock.Anything, "ipqs:203.0.113.7").Return(nil, false)
	store.On("Set", mock.Anything, "ipqs:203.0.113.7", mock.Anything, time.Minute).Return(errors.New("redis: connection refused"))

	var logs bytes.Buffer
	checker := reputation.NewChecker("secret", up.Client(), store, time.Minute, log.NewZerologAdapter(&logs, zerolog.WarnLevel, false))

	v, err := checker.Check(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.InDelta(t, 5, v.FraudScore, 0.001)
	store.AssertExpectations(t)

	assert.Contains(t, logs.String(), "failed to cache reputation verdict")
	assert.Contains(t, logs.String(), "redis: connection refused")
	assert.Contains(t, logs.String(), `"ip":"203.0.113.7"`)
}

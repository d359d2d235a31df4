package httpclient

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseOpenAIRateLimitHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "30")
	h.Set("x-ratelimit-reset-tokens", "1700000000")
	h.Set("x-ratelimit-remaining-requests", "12")
	h.Set("x-ratelimit-remaining-tokens", "5000")

	info := ParseOpenAIRateLimitHeaders(h)
	assert.Equal(t, 30*time.Second, info.RetryAfter)
	assert.Equal(t, int64(1700000000), info.ResetTime)
	assert.Equal(t, 12, info.RequestsRemaining)
	assert.Equal(t, 5000, info.TokensRemaining)
}

func TestParseOpenAIRateLimitHeadersFallsBackToRequestsReset(t *testing.T) {
	h := http.Header{}
	h.Set("x-ratelimit-reset-requests", "1700000100")

	info := ParseOpenAIRateLimitHeaders(h)
	assert.Equal(t, int64(1700000100), info.ResetTime)
}

func TestParseOpenAIRateLimitHeadersEmpty(t *testing.T) {
	info := ParseOpenAIRateLimitHeaders(http.Header{})
	assert.Equal(t, RateLimitInfo{}, info)
}

func TestParseOpenAIRateLimitHeadersIgnoresMalformed(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "soon")
	h.Set("x-ratelimit-remaining-requests", "many")

	info := ParseOpenAIRateLimitHeaders(h)
	assert.Equal(t, RateLimitInfo{}, info)
}

func TestParseAnthropicRateLimitHeaders(t *testing.T) {
	reset := time.Now().Add(time.Minute).UTC().Truncate(time.Second)

	h := http.Header{}
	h.Set("retry-after", "10")
	h.Set("anthropic-ratelimit-input-tokens-reset", reset.Format(time.RFC3339))
	h.Set("anthropic-ratelimit-requests-remaining", "3")
	h.Set("anthropic-ratelimit-input-tokens-remaining", "900")

	info := ParseAnthropicRateLimitHeaders(h)
	assert.Equal(t, 10*time.Second, info.RetryAfter)
	assert.Equal(t, reset.Unix(), info.ResetTime)
	assert.Equal(t, 3, info.RequestsRemaining)
	assert.Equal(t, 900, info.TokensRemaining)
}

func TestParseAnthropicRateLimitHeadersResetPriority(t *testing.T) {
	first := time.Now().Add(time.Minute).UTC().Truncate(time.Second)
	second := first.Add(time.Hour)

	h := http.Header{}
	h.Set("anthropic-ratelimit-input-tokens-reset", first.Format(time.RFC3339))
	h.Set("anthropic-ratelimit-requests-reset", second.Format(time.RFC3339))

	info := ParseAnthropicRateLimitHeaders(h)
	assert.Equal(t, first.Unix(), info.ResetTime)
}

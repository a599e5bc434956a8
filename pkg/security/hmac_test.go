package security_test

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/angelmondragon/stockledger-backend/pkg/security"
)

func TestGenerateSecret(t *testing.T) {
	first, err := security.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret returned error: %v", err)
	}
	if len(first) != security.SecretBytes*2 {
		t.Fatalf("expected %d hex chars, got %d", security.SecretBytes*2, len(first))
	}

	second, err := security.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret returned error: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct secrets")
	}
}

func TestSignAndVerifyRequest(t *testing.T) {
	body := []byte(`{"event_id":"evt-1"}`)
	sig := security.SignRequest("s3cret", "POST", "/api/v1/terminal/sales", "1700000000", body)

	if err := security.VerifyRequest("s3cret", "POST", "/api/v1/terminal/sales", "1700000000", body, sig); err != nil {
		t.Fatalf("VerifyRequest rejected a valid signature: %v", err)
	}

	cases := map[string]func() error{
		"secret": func() error {
			return security.VerifyRequest("other", "POST", "/api/v1/terminal/sales", "1700000000", body, sig)
		},
		"method": func() error {
			return security.VerifyRequest("s3cret", "PUT", "/api/v1/terminal/sales", "1700000000", body, sig)
		},
		"timestamp": func() error {
			return security.VerifyRequest("s3cret", "POST", "/api/v1/terminal/sales", "1700000001", body, sig)
		},
		"body": func() error {
			return security.VerifyRequest("s3cret", "POST", "/api/v1/terminal/sales", "1700000000", []byte(`{}`), sig)
		},
	}
	for name, verify := range cases {
		if err := verify(); !errors.Is(err, security.ErrSignatureMismatch) {
			t.Fatalf("%s: expected mismatch, got %v", name, err)
		}
	}
}

func TestCheckTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	window := 5 * time.Minute

	if _, err := security.CheckTimestamp(strconv.FormatInt(now.Add(-4*time.Minute).Unix(), 10), now, window); err != nil {
		t.Fatalf("expected timestamp within window, got %v", err)
	}
	if _, err := security.CheckTimestamp(strconv.FormatInt(now.Add(6*time.Minute).Unix(), 10), now, window); !errors.Is(err, security.ErrTimestampSkew) {
		t.Fatalf("expected skew error for future timestamp, got %v", err)
	}
	if _, err := security.CheckTimestamp(strconv.FormatInt(now.Add(-6*time.Minute).Unix(), 10), now, window); !errors.Is(err, security.ErrTimestampSkew) {
		t.Fatalf("expected skew error for stale timestamp, got %v", err)
	}
	if _, err := security.CheckTimestamp("yesterday", now, window); err == nil {
		t.Fatal("expected parse error")
	}
}

package scheduler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mangosqueezy/internal/common"
)

const (
	SignatureHeader = "X-Mango-Signature"
	timestampMaxAge = 300 * time.Second
	clockSkew       = 30 * time.Second
)

// Signer produces and checks "t=<unix>,v1=<hex hmac-sha256>" headers over "<t>.<raw body>".
type Signer struct {
	secret []byte
	nowFn  func() time.Time
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), nowFn: time.Now}
}

func (s *Signer) Sign(body []byte) string {
	ts := strconv.FormatInt(s.nowFn().Unix(), 10)
	return "t=" + ts + ",v1=" + s.mac(ts, body)
}

// Verify checks header against body. Any mismatch, malformed header or out-of-window
// timestamp is ErrSignatureInvalid.
func (s *Signer) Verify(body []byte, header string) error {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return fmt.Errorf("malformed signature header: %w", common.ErrSignatureInvalid)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("bad signature timestamp: %w", common.ErrSignatureInvalid)
	}
	age := s.nowFn().Sub(time.Unix(unix, 0))
	if age > timestampMaxAge || age < -clockSkew {
		return fmt.Errorf("signature timestamp outside window: %w", common.ErrSignatureInvalid)
	}

	expected, err := hex.DecodeString(s.mac(ts, body))
	if err != nil {
		return err
	}
	got, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(expected, got) {
		return common.ErrSignatureInvalid
	}
	return nil
}

func (s *Signer) mac(ts string, body []byte) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(ts))
	h.Write([]byte("."))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

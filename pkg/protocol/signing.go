package protocol

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// canonicalAction is the action without the fields that are not signed:
// the signature itself and the relay-stamped request id.
// encoding/json sorts map keys, so the encoding is deterministic.
func canonicalAction(a Action) ([]byte, error) {
	c := make(map[string]any, len(a))
	for k, v := range a {
		if k == FieldSignature || k == FieldRequestID {
			continue
		}
		c[k] = v
	}
	return json.Marshal(c)
}

func actionMAC(a Action, secret string) (string, error) {
	canonical, err := canonicalAction(a)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// SignAction computes an HMAC-SHA256 signature over the action and stores it
// in the "signature" field. If secret is empty, the action is left unsigned.
func SignAction(a Action, secret string) error {
	if secret == "" {
		return nil
	}
	sig, err := actionMAC(a, secret)
	if err != nil {
		return err
	}
	a[FieldSignature] = sig
	return nil
}

// VerifyAction checks the signature on an action.
// If secret is empty, verification is skipped (returns true).
// If the action has no signature but a secret is configured, returns false.
func VerifyAction(a Action, secret string) bool {
	if secret == "" {
		return true
	}
	sig, _ := a[FieldSignature].(string)
	if sig == "" {
		return false
	}
	expected, err := actionMAC(a, secret)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(sig))
}

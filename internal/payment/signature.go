package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Sign returns the lowercase hex HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// PaymentSignaturePayload is the message the provider signs for the client
// callback: "<orderRef>|<paymentRef>".
func PaymentSignaturePayload(orderRef, paymentRef string) []byte {
	return []byte(orderRef + "|" + paymentRef)
}

// VerifyPaymentSignature checks the signature the checkout widget hands back
// to the client after a successful payment.
func VerifyPaymentSignature(secret, orderRef, paymentRef, signature string) error {
	return verify(secret, PaymentSignaturePayload(orderRef, paymentRef), signature)
}

// VerifyWebhookSignature checks the X-Razorpay-Signature header against the
// raw request body. body must be the exact bytes received.
func VerifyWebhookSignature(secret string, body []byte, signature string) error {
	return verify(secret, body, signature)
}

func verify(secret string, payload []byte, signature string) error {
	if secret == "" {
		return fmt.Errorf("%w: no signing secret configured", ErrSignatureMismatch)
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) != sha256.Size {
		return fmt.Errorf("%w: signature is not a hex sha256 digest", ErrSignatureMismatch)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), got) {
		return ErrSignatureMismatch
	}
	return nil
}

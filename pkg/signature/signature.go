// Package signature implements the HMAC-SHA256 checks Razorpay uses to bind
// payment identifiers and webhook bodies to a shared secret.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const delimiter = "|"

// Sign returns the hex encoded HMAC-SHA256 of message under secret.
func Sign(secret string, message []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignParts signs the parts joined with "|".
func SignParts(secret string, parts ...string) string {
	return Sign(secret, []byte(strings.Join(parts, delimiter)))
}

// Verify compares the expected digest of message with the supplied hex
// signature in constant time.
func Verify(secret string, message []byte, supplied string) bool {
	if secret == "" || supplied == "" {
		return false
	}
	expected := Sign(secret, message)
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(supplied)))
}

// VerifyPayment checks a checkout signature for the subscription flow,
// computed over "paymentID|subscriptionID".
func VerifyPayment(paymentID, subscriptionID, supplied, secret string) bool {
	if paymentID == "" || subscriptionID == "" {
		return false
	}
	return Verify(secret, []byte(paymentID+delimiter+subscriptionID), supplied)
}

// VerifyOrderPayment checks a checkout signature for the one-off order flow,
// computed over "orderID|paymentID".
func VerifyOrderPayment(orderID, paymentID, supplied, secret string) bool {
	if orderID == "" || paymentID == "" {
		return false
	}
	return Verify(secret, []byte(orderID+delimiter+paymentID), supplied)
}

// VerifyWebhook checks the x-razorpay-signature header against the raw body.
func VerifyWebhook(body []byte, supplied, secret string) bool {
	return Verify(secret, body, supplied)
}

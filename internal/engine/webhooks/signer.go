package webhooks

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"hash"
)

// Supported providers. The set is closed on purpose: signature handling is
// security-sensitive, so new providers are added here, not configured in.
const (
	ProviderZapier  = "zapier"
	ProviderMake    = "make"
	ProviderSlack   = "slack"
	ProviderTeams   = "teams"
	ProviderHubspot = "hubspot"
)

type signFunc func(secret string, payload []byte) string

type providerScheme struct {
	header string
	sign   signFunc
}

// Signatures are always computed over the raw, unparsed body. Re-serialized
// JSON is not byte-stable, so it must never be what gets hashed.
var providerSchemes = map[string]providerScheme{
	ProviderZapier:  {"X-Zapier-Signature", signHexSHA256},
	ProviderMake:    {"X-Make-Signature", signHexSHA256},
	ProviderSlack:   {"X-Slack-Signature", signSlackV0},
	ProviderTeams:   {"X-Teams-Signature", signBase64SHA256},
	ProviderHubspot: {"X-HubSpot-Signature-v2", signHexSHA1},
}

func KnownProvider(provider string) bool {
	_, ok := providerSchemes[provider]
	return ok
}

// Providers returns the closed provider set.
func Providers() []string {
	names := make([]string, 0, len(providerSchemes))
	for name := range providerSchemes {
		names = append(names, name)
	}
	return names
}

// SignatureHeader returns the header a provider expects the signature in.
func SignatureHeader(provider string) (string, bool) {
	scheme, ok := providerSchemes[provider]
	if !ok {
		return "", false
	}
	return scheme.header, true
}

// Sign computes the outbound signature for a payload. The bool is false for
// unknown providers.
func Sign(provider, secret string, payload []byte) (string, bool) {
	scheme, ok := providerSchemes[provider]
	if !ok {
		return "", false
	}
	return scheme.sign(secret, payload), true
}

// Verify checks an inbound signature. Unknown providers, malformed or
// length-mismatched signatures all fail closed: a verification failure,
// not a system error.
func Verify(provider string, payload []byte, supplied, secret string) bool {
	scheme, ok := providerSchemes[provider]
	if !ok {
		return false
	}
	if supplied == "" || secret == "" {
		return false
	}
	expected := scheme.sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(supplied))
}

func hmacSum(h func() hash.Hash, secret string, payload []byte) []byte {
	mac := hmac.New(h, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}

func signHexSHA256(secret string, payload []byte) string {
	return hex.EncodeToString(hmacSum(sha256.New, secret, payload))
}

func signBase64SHA256(secret string, payload []byte) string {
	return base64.StdEncoding.EncodeToString(hmacSum(sha256.New, secret, payload))
}

// Slack prefixes its hex digest with a scheme version.
func signSlackV0(secret string, payload []byte) string {
	return "v0=" + hex.EncodeToString(hmacSum(sha256.New, secret, payload))
}

// HubSpot's v2 scheme still rides on SHA-1.
func signHexSHA1(secret string, payload []byte) string {
	return hex.EncodeToString(hmacSum(sha1.New, secret, payload))
}

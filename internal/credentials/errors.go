package credentials

import (
	"strings"

	"ragcore/internal/errors"
)

// providerSetupURL mirrors the original implementation's provider_urls
// table, used to template remediation steps.
var providerSetupURL = map[string]string{
	"openai":     "https://platform.openai.com/api-keys",
	"anthropic":  "https://console.anthropic.com/",
	"gemini":     "https://makersuite.google.com/app/apikey",
	"openrouter": "https://openrouter.ai/keys",
}

func setupURL(provider string) string {
	if u, ok := providerSetupURL[provider]; ok {
		return u
	}
	return provider + " provider website"
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// remediationFor returns the fixed, provider-templated remediation steps
// for an error kind, preserved verbatim from the original
// api_key_error_handler.py's _generate_remediation_steps.
func remediationFor(code errors.ErrorCode, provider string) []string {
	name := titleCase(provider)
	url := setupURL(provider)

	switch code {
	case errors.ErrorCodeAPIKeyNotFound:
		return []string{
			"Configure " + name + " API key in your profile settings",
			"Get an API key from: " + url,
			"Ensure the API key is properly saved",
		}
	case errors.ErrorCodeAPIKeyInvalid:
		return []string{
			"Verify your " + name + " API key is correct",
			"Check API key permissions at: " + url,
			"Generate a new API key if needed",
		}
	case errors.ErrorCodeAPIKeyExpired:
		return []string{
			"Generate a new " + name + " API key",
			"Update your profile with the new key",
			"Set up API key rotation to prevent future expiration",
		}
	case errors.ErrorCodeAPIKeyRateLimited:
		return []string{
			"Wait for " + name + " rate limits to reset",
			"Consider upgrading your " + name + " plan",
			"Implement request throttling in your application",
		}
	case errors.ErrorCodeAPIKeyValidationTimeout:
		return []string{
			"Check network connectivity to " + name,
			"Retry the operation after a brief delay",
			"Contact " + name + " support if timeouts persist",
		}
	case errors.ErrorCodeAPIKeyNetworkError:
		return []string{
			"Check network connectivity",
			"Verify " + name + " service status",
			"Retry the operation",
		}
	default:
		return []string{"Contact support for assistance"}
	}
}

// categorizeValidationError classifies a live-validation failure into an
// ErrorCode by inspecting the error text and status, following the
// original's _categorize_error message-sniffing approach.
func categorizeValidationError(provider string, err error) *errors.StandardError {
	msg := strings.ToLower(err.Error())

	var code errors.ErrorCode
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid"):
		code = errors.ErrorCodeAPIKeyInvalid
	case strings.Contains(msg, "403") || strings.Contains(msg, "expired"):
		code = errors.ErrorCodeAPIKeyExpired
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		code = errors.ErrorCodeAPIKeyRateLimited
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		code = errors.ErrorCodeAPIKeyValidationTimeout
	case strings.Contains(msg, "not found") || strings.Contains(msg, "missing"):
		code = errors.ErrorCodeAPIKeyNotFound
	default:
		code = errors.ErrorCodeAPIKeyNetworkError
	}

	return errors.NewAPIKeyError(code, provider, err.Error(), remediationFor(code, provider))
}

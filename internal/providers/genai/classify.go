package genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "google.golang.org/genai"

	"lightwork/internal/imagegen"
)

var safetyFinishReasons = map[string]bool{
	"SAFETY":                   true,
	"IMAGE_SAFETY":             true,
	"PROHIBITED_CONTENT":       true,
	"IMAGE_PROHIBITED_CONTENT": true,
	"BLOCKLIST":                true,
	"SPII":                     true,
	"RECITATION":               true,
}

func classifyError(err error) *imagegen.TransformError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return imagegen.NewError(imagegen.CauseUnknown, "Request to image service timed out. Retrying...", err)
	}

	var apiErr sdk.APIError
	if errors.As(err, &apiErr) {
		return imagegen.NewError(classifyStatus(apiErr.Code, apiErr.Status, apiErr.Message), "", err)
	}
	var apiErrPtr *sdk.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return imagegen.NewError(classifyStatus(apiErrPtr.Code, apiErrPtr.Status, apiErrPtr.Message), "", err)
	}
	return imagegen.NewError(imagegen.CauseUnknown, "", err)
}

func classifyStatus(code int, status, message string) imagegen.Cause {
	status = strings.ToUpper(strings.TrimSpace(status))
	switch {
	case code == http.StatusTooManyRequests || status == "RESOURCE_EXHAUSTED":
		return imagegen.CauseRateLimited
	case code == http.StatusServiceUnavailable || code == http.StatusInternalServerError ||
		code == http.StatusGatewayTimeout || code == http.StatusBadGateway ||
		status == "UNAVAILABLE" || status == "INTERNAL" || status == "DEADLINE_EXCEEDED":
		return imagegen.CauseOverloaded
	case code == http.StatusUnauthorized || code == http.StatusForbidden || code == http.StatusNotFound ||
		status == "UNAUTHENTICATED" || status == "PERMISSION_DENIED" || status == "NOT_FOUND":
		return imagegen.CauseAuth
	// Gemini reports a bad key as 400 INVALID_ARGUMENT.
	case strings.Contains(strings.ToLower(message), "api key"):
		return imagegen.CauseAuth
	case code == http.StatusBadRequest || code == http.StatusRequestEntityTooLarge ||
		status == "INVALID_ARGUMENT" || status == "FAILED_PRECONDITION":
		return imagegen.CauseInvalidInput
	case code >= 500:
		return imagegen.CauseOverloaded
	}
	return imagegen.CauseUnknown
}

func extractImage(resp *sdk.GenerateContentResponse) (*imagegen.Result, error) {
	if resp == nil {
		return nil, imagegen.NewError(imagegen.CauseUnknown, "Empty response from image service. Retrying...", nil)
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		reason := string(fb.BlockReason)
		return nil, imagegen.NewError(imagegen.CauseSafetyBlocked,
			fmt.Sprintf("Blocked by AI safety filters (%s). Please try a different prompt.", imagegen.HumanizeReason(reason)),
			fmt.Errorf("prompt blocked: %s", reason))
	}

	var finish string
	var text []string
	for _, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		if finish == "" {
			finish = string(cand.FinishReason)
		}
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				mimeType := imagegen.NormalizeMIME(part.InlineData.MIMEType)
				if mimeType == "" {
					mimeType = "image/png"
				}
				return &imagegen.Result{Data: part.InlineData.Data, MIMEType: mimeType}, nil
			}
			if t := strings.TrimSpace(part.Text); t != "" {
				text = append(text, t)
			}
		}
	}

	if safetyFinishReasons[finish] {
		return nil, imagegen.NewError(imagegen.CauseSafetyBlocked,
			fmt.Sprintf("Blocked by AI safety filters (%s). Please try a different prompt.", imagegen.HumanizeReason(finish)),
			fmt.Errorf("finish reason %s", finish))
	}
	if finish != "" && finish != "STOP" {
		return nil, imagegen.NewError(imagegen.CauseUnknown,
			fmt.Sprintf("Generation stopped early (%s). Retrying...", imagegen.HumanizeReason(finish)),
			fmt.Errorf("finish reason %s", finish))
	}
	if len(text) > 0 {
		return nil, imagegen.NewError(imagegen.CauseUnknown, "No image generated in response. Retrying...",
			fmt.Errorf("model answered with text: %s", truncate(strings.Join(text, " "), 200)))
	}
	return nil, imagegen.NewError(imagegen.CauseUnknown, "No image generated in response. Retrying...", nil)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

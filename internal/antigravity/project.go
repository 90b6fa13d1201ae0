package antigravity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// projectResolveGroup coalesces concurrent project-resolution calls for the
// same refresh-token identity so two in-flight dispatch calls for the same
// newly-enrolled account don't both hammer loadCodeAssist/onboardUser.
var projectResolveGroup singleflight.Group

// ResolveProjectID discovers or confirms a Cloud project id for the given
// access token, following the same loadCodeAssist -> onboardUser path the
// Gemini/Antigravity CLIs use. It returns the empty string (not an error)
// when the upstream genuinely has no project to offer yet.
func ResolveProjectID(ctx context.Context, httpClient *http.Client, accessToken string, identity string) (string, error) {
	v, err, _ := projectResolveGroup.Do(identity, func() (interface{}, error) {
		return resolveProjectID(ctx, httpClient, accessToken)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func resolveProjectID(ctx context.Context, httpClient *http.Client, accessToken string) (string, error) {
	loadResp, err := postCodeAssist(ctx, httpClient, accessToken, EndpointDaily+LoadCodeAssist, map[string]any{
		"metadata": map[string]any{"ideType": "IDE_UNSPECIFIED", "platform": "PLATFORM_UNSPECIFIED", "pluginType": "GEMINI"},
	})
	if err != nil {
		return "", err
	}

	if project := extractCloudProject(loadResp); project != "" {
		return project, nil
	}

	tierID := defaultTier(loadResp)
	return onboardUser(ctx, httpClient, accessToken, tierID)
}

func extractCloudProject(data map[string]any) string {
	raw, ok := data["cloudaicompanionProject"]
	if !ok {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		if id, ok := v["id"].(string); ok {
			return strings.TrimSpace(id)
		}
	}
	return ""
}

func defaultTier(data map[string]any) string {
	tiers, ok := data["allowedTiers"].([]any)
	if !ok {
		return ""
	}
	for _, t := range tiers {
		tier, ok := t.(map[string]any)
		if !ok {
			continue
		}
		if isDefault, _ := tier["isDefault"].(bool); isDefault {
			if id, ok := tier["id"].(string); ok {
				return id
			}
		}
	}
	return ""
}

// onboardUser polls the onboarding endpoint until it reports done, up to 5
// attempts spaced 2s apart, matching the upstream CLI's own backoff.
func onboardUser(ctx context.Context, httpClient *http.Client, accessToken, tierID string) (string, error) {
	payload := map[string]any{
		"tierId":   tierID,
		"metadata": map[string]any{"ideType": "IDE_UNSPECIFIED", "platform": "PLATFORM_UNSPECIFIED", "pluginType": "GEMINI"},
	}

	deadline := time.Now().Add(30 * time.Second)
	for attempt := 0; attempt < 5; attempt++ {
		resp, err := postCodeAssist(ctx, httpClient, accessToken, EndpointDaily+OnboardUserPath, payload)
		if err != nil {
			return "", err
		}
		if done, _ := resp["done"].(bool); done {
			if respData, ok := resp["response"].(map[string]any); ok {
				return extractCloudProject(respData), nil
			}
			return "", nil
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return "", nil
}

func postCodeAssist(ctx context.Context, httpClient *http.Client, accessToken, url string, payload map[string]any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", APIUserAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("antigravity: project resolution status %d: %s", resp.StatusCode, string(respBody))
	}

	var data map[string]any
	if err := json.Unmarshal(respBody, &data); err != nil {
		return nil, fmt.Errorf("antigravity: decode project response: %w", err)
	}
	return data, nil
}

package antigravity

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// PreparedRequest is the Request Rewriter's output: a fully-addressed,
// authenticated HTTP request plus the bookkeeping the Dispatch Engine and
// Response Classifier need.
type PreparedRequest struct {
	Request        *http.Request
	Streaming      bool
	RequestedModel string
	ProjectID      string
	Endpoint       string
	EffectiveModel string
}

// generativePaths are the upstream operation suffixes that identify an
// outbound call as targeting the generative-language surface. Anything else
// is passed through unrewritten by the caller.
var generativePaths = []string{GeneratePath, StreamPath, CountTokensPath, ModelsPath}

// IsGenerativeLanguageRequest reports whether the given URL targets one of
// the Antigravity generative-language operations.
func IsGenerativeLanguageRequest(u *url.URL) bool {
	if u == nil {
		return false
	}
	for _, suffix := range generativePaths {
		if strings.HasSuffix(u.Path, suffix) {
			return true
		}
	}
	return false
}

// Prepare rewrites original to target endpoint with the given access token
// and project id. original's body is consumed and replaced; callers must not
// reuse original after calling Prepare.
func Prepare(ctx context.Context, original *http.Request, accessToken, projectID, endpoint string) (PreparedRequest, error) {
	streaming := strings.HasSuffix(original.URL.Path, StreamPath)

	var payload []byte
	if original.Body != nil {
		data, err := io.ReadAll(original.Body)
		if err != nil {
			return PreparedRequest{}, err
		}
		_ = original.Body.Close()
		payload = data
	}

	// Hosts may address models with a credential prefix ("team/gemini-3-pro");
	// the upstream only knows the bare id, so the prefix is stripped from the
	// payload and both forms are reported for logging.
	requestedModel := gjson.GetBytes(payload, "model").String()
	effectiveModel := requestedModel
	if idx := strings.LastIndex(requestedModel, "/"); idx >= 0 {
		effectiveModel = requestedModel[idx+1:]
	}
	if effectiveModel != requestedModel {
		payload, _ = sjson.SetBytes(payload, "model", effectiveModel)
	}

	if projectID != "" {
		payload, _ = sjson.SetBytes(payload, "project", projectID)
	}

	targetURL := strings.TrimSuffix(endpoint, "/") + original.URL.Path
	if original.URL.RawQuery != "" {
		targetURL += "?" + original.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, original.Method, targetURL, strings.NewReader(string(payload)))
	if err != nil {
		return PreparedRequest{}, err
	}
	req.Header = original.Header.Clone()
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", APIUserAgent)
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}

	return PreparedRequest{
		Request:        req,
		Streaming:      streaming,
		RequestedModel: requestedModel,
		ProjectID:      projectID,
		Endpoint:       endpoint,
		EffectiveModel: effectiveModel,
	}, nil
}

package antigravitypool

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/ink-splatters/opencode-antigravity-auth/internal/antigravity"
	"github.com/tidwall/gjson"
)

// ModelInfo is one entry of the upstream's advertised model catalog.
type ModelInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// ListModels fetches the upstream's available-models catalog through the
// dispatch machinery, so the call benefits from the same account rotation
// and endpoint fallback as generative calls.
func (d *Dispatcher) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, antigravity.EndpointDaily+antigravity.ModelsPath, strings.NewReader(`{}`))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &Error{Message: "model catalog fetch failed", HTTPStatus: resp.StatusCode, Retryable: resp.StatusCode >= http.StatusInternalServerError}
	}

	result := gjson.GetBytes(body, "models")
	if !result.Exists() {
		return nil, nil
	}

	models := make([]ModelInfo, 0, len(result.Map()))
	for name, data := range result.Map() {
		id := strings.TrimSpace(name)
		if id == "" {
			continue
		}
		displayName := data.Get("displayName").String()
		if displayName == "" {
			displayName = id
		}
		models = append(models, ModelInfo{ID: id, DisplayName: displayName})
	}
	return models, nil
}

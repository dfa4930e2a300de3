package automation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusradio/airmon/internal/config"
)

func TestSetAutoDJ(t *testing.T) {
	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	defer httpmock.DeactivateAndReset()

	var gotAuth string
	var gotBody map[string]bool
	httpmock.RegisterResponder(http.MethodPost, "http://automation.local/api/autodj",
		func(req *http.Request) (*http.Response, error) {
			gotAuth = req.Header.Get("Authorization")
			data, _ := io.ReadAll(req.Body)
			require.NoError(t, json.Unmarshal(data, &gotBody))
			return httpmock.NewJsonResponse(200, map[string]string{"status": "ok"})
		})

	c := NewClientWithHTTP(config.AutoDJ{
		BaseURL: "http://automation.local/api/",
		APIKey:  "sekrit",
	}, httpClient, nil)

	require.NoError(t, c.SetAutoDJ(context.Background(), true))
	assert.Equal(t, "Bearer sekrit", gotAuth)
	assert.Equal(t, map[string]bool{"enabled": true}, gotBody)
}

func TestSetAutoDJ_APIError(t *testing.T) {
	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "http://automation.local/api/autodj",
		httpmock.NewStringResponder(500, "boom"))

	c := NewClientWithHTTP(config.AutoDJ{BaseURL: "http://automation.local/api"}, httpClient, nil)
	assert.Error(t, c.SetAutoDJ(context.Background(), true))
}

func TestSetAutoDJ_Disabled(t *testing.T) {
	c := NewClient(config.AutoDJ{}, nil)
	assert.False(t, c.Enabled())
	assert.Error(t, c.SetAutoDJ(context.Background(), true))
}

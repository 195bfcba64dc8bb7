package voker

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockedExtensionAPIClient(t *testing.T) *extensionAPIClient {
	t.Helper()
	client := newExtensionAPIClient("127.0.0.1:9001")
	httpmock.ActivateNonDefault(client.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return client
}

func TestExtensionAPIClient_Register(t *testing.T) {
	extensionID := "test-extension-id-12345"
	extensionName := "TestExtension"
	requestedEvents := []extensionEventType{eventTypeInvoke}

	client := newMockedExtensionAPIClient(t)

	httpmock.RegisterResponder(http.MethodPost, client.registerURL, func(r *http.Request) (*http.Response, error) {
		assert.Equal(t, extensionName, r.Header.Get(headerExtensionName))

		var req registerRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, requestedEvents, req.Events)

		resp := httpmock.NewStringResponse(http.StatusOK, "")
		resp.Header.Set(headerExtensionIdentifier, extensionID)
		return resp, nil
	})

	id, err := client.register(extensionName, requestedEvents)
	require.NoError(t, err)
	assert.Equal(t, extensionID, id)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestExtensionAPIClient_Register_Error(t *testing.T) {
	client := newMockedExtensionAPIClient(t)
	httpmock.RegisterResponder(http.MethodPost, client.registerURL,
		httpmock.NewStringResponder(http.StatusInternalServerError, ""))

	_, err := client.register("TestExtension", []extensionEventType{eventTypeInvoke})
	assert.Error(t, err)
}

func TestExtensionAPIClient_Next(t *testing.T) {
	extensionID := "test-extension-id-12345"
	expectedEvent := ExtensionEventPayload{
		EventType:          eventTypeInvoke,
		DeadlineMs:         1234567890,
		RequestID:          "test-request-id",
		InvokedFunctionArn: "arn:aws:lambda:us-east-1:123456789012:function:test",
	}

	client := newMockedExtensionAPIClient(t)

	httpmock.RegisterResponder(http.MethodGet, client.nextURL, func(r *http.Request) (*http.Response, error) {
		assert.Equal(t, extensionID, r.Header.Get(headerExtensionIdentifier))
		return httpmock.NewJsonResponse(http.StatusOK, expectedEvent)
	})

	event, err := client.next(extensionID)
	require.NoError(t, err)
	assert.Equal(t, expectedEvent.EventType, event.EventType)
	assert.Equal(t, expectedEvent.DeadlineMs, event.DeadlineMs)
	assert.Equal(t, expectedEvent.RequestID, event.RequestID)
}

func TestExtensionAPIClient_Next_Error(t *testing.T) {
	client := newMockedExtensionAPIClient(t)
	httpmock.RegisterResponder(http.MethodGet, client.nextURL,
		httpmock.NewStringResponder(http.StatusInternalServerError, ""))

	_, err := client.next("test-id")
	assert.Error(t, err)
}

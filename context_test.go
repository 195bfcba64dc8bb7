package voker

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLambdaContext(t *testing.T) {
	id, ok := parseRequestId("8476a536-e9f4-11e8-9739-2dfe598c3fcd")
	require.True(t, ok)

	deadline := time.Now().Add(5 * time.Second)
	lc := &LambdaContext{
		AwsRequestID:       id,
		TraceID:            "Root=1-5bef4de7-ad49b0e87f6ef6c87fc2e700;Sampled=1",
		InvokedFunctionArn: "arn:aws:lambda:us-east-1:123456789012:function:test",
		Deadline:           deadline,
		Identity: CognitoIdentity{
			CognitoIdentityID:     "identity-456",
			CognitoIdentityPoolID: "pool-789",
		},
		ClientContext: ClientContext{
			Client: ClientApplication{
				InstallationID: "install-abc",
				AppTitle:       "MyApp",
			},
			Custom: map[string]string{
				"key": "value",
			},
		},
		Logger: slog.Default(),
	}

	ctx := NewContext(context.Background(), lc)

	retrieved, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, lc.AwsRequestID, retrieved.AwsRequestID)
	assert.Equal(t, lc.TraceID, retrieved.TraceID)
	assert.Equal(t, lc.InvokedFunctionArn, retrieved.InvokedFunctionArn)
	assert.Equal(t, lc.Identity.CognitoIdentityID, retrieved.Identity.CognitoIdentityID)
	assert.Equal(t, lc.ClientContext.Client.InstallationID, retrieved.ClientContext.Client.InstallationID)
	assert.Equal(t, "value", retrieved.ClientContext.Custom["key"])
	assert.NotNil(t, retrieved.Logger)
}

func TestFromContext_NotPresent(t *testing.T) {
	ctx := context.Background()
	lc, ok := FromContext(ctx)
	assert.False(t, ok)
	assert.Nil(t, lc)
}

func TestLambdaContext_RemainingTime(t *testing.T) {
	lc := &LambdaContext{Deadline: time.Now().Add(3 * time.Second)}
	remaining := lc.RemainingTime()
	assert.Greater(t, remaining, 2*time.Second)
	assert.LessOrEqual(t, remaining, 3*time.Second)
}

func TestLambdaContext_RemainingTime_PastDeadline(t *testing.T) {
	lc := &LambdaContext{Deadline: time.Now().Add(-1 * time.Second)}
	assert.Negative(t, lc.RemainingTime())
}

package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/release-distribution-api/internal/models"
)

func TestLogNotifierWritesStructuredEntry(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	notifier := NewLogNotifier(zap.New(core))

	err := notifier.Notify(context.Background(), Notification{
		DistributionID:  "dist-1",
		UpdatePackageID: "pkg-1",
		UserID:          "u1",
		Kind:            models.NotificationRequired,
	})
	require.NoError(t, err)

	entries := logs.FilterMessage("update notification").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "u1", fields["user_id"])
	assert.Equal(t, "required", fields["kind"])
}

package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/nhle/notifyhub/internal/model"
)

// Epoch is a fixed creation time for fixtures.
var Epoch = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

// Notification returns a New notification from source created at createdAt.
func Notification(source model.ServiceType, createdAt time.Time, tags ...string) model.Notification {
	if tags == nil {
		tags = []string{}
	}
	return model.Notification{
		ID:        uuid.NewString(),
		Title:     "notification " + createdAt.Format(time.RFC3339),
		Priority:  model.PriorityMedium,
		Status:    model.StatusNew,
		Metadata:  model.Metadata{Source: source, Tags: tags},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
		Version:   1,
	}
}

// APIKeyService returns an enabled ApiKey service config.
func APIKeyService(serviceType model.ServiceType, key string) model.ServiceConfig {
	return model.ServiceConfig{
		ID:          uuid.NewString(),
		Name:        string(serviceType) + " service",
		ServiceType: serviceType,
		Auth:        &model.APIKeyAuth{Key: key},
		Enabled:     true,
		Metadata:    map[string]string{},
		CreatedAt:   Epoch,
		UpdatedAt:   Epoch,
	}
}

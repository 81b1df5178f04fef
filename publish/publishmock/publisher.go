// Package publishmock provides a testify mock of publish.Publisher.
package publishmock

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/use-agent/powerwatch/models"
	"github.com/use-agent/powerwatch/publish"
)

type Publisher struct {
	mock.Mock
}

var _ publish.Publisher = (*Publisher)(nil)

func (m *Publisher) Name() string {
	args := m.Called()
	if len(args) > 0 {
		return args.String(0)
	}
	return "mock"
}

func (m *Publisher) Publish(ctx context.Context, snap *models.Snapshot) error {
	args := m.Called(ctx, snap)
	return args.Error(0)
}

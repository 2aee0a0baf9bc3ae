package moderation

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockClassifier struct {
	mock.Mock
}

func (m *MockClassifier) Classify(ctx context.Context, text string) (Verdict, error) {
	args := m.Called(ctx, text)
	return args.Get(0).(Verdict), args.Error(1)
}

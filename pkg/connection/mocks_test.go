package connection

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type mockSession struct {
	mock.Mock
}

func (m *mockSession) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockSession) Serve(ctx context.Context) error {
	args := m.Called(ctx)
	if rf, ok := args.Get(0).(func(context.Context) error); ok {
		return rf(ctx)
	}
	return args.Error(0)
}

func (m *mockSession) Teardown() {
	m.Called()
}

func (m *mockSession) Remote() string {
	args := m.Called()
	return args.String(0)
}

type mockProber struct {
	mock.Mock
}

func (m *mockProber) HasValidatedInternet() bool {
	args := m.Called()
	return args.Bool(0)
}

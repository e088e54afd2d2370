package resourcegroup

import (
	"github.com/stretchr/testify/mock"
)

// MockManager mocks a Manager for unit tests.
type MockManager struct {
	mock.Mock
}

func (m *MockManager) GroupIDs() []int {
	args := m.Called()
	return args.Get(0).([]int)
}

func (m *MockManager) Group(id int) (Group, bool) {
	args := m.Called(id)
	g, _ := args.Get(0).(Group)
	return g, args.Bool(1)
}

func (m *MockManager) GroupName(id int) string {
	args := m.Called(id)
	return args.String(0)
}

func (m *MockManager) AddManagerListener(l ManagerListener) {
	m.Called(l)
}

func (m *MockManager) RemoveManagerListener(l ManagerListener) {
	m.Called(l)
}
